package contacts

import (
	"context"
	"io"

	"github.com/MarcoPoloResearchLab/prospectflow/internal/export"
	"go.uber.org/zap"
)

// Export writes every contact matching the filter as CSV, in query order.
func (s *Service) Export(ctx context.Context, scope Scope, filter Filter, options export.Options, w io.Writer) error {
	if err := s.ready(opExport); err != nil {
		return err
	}
	result, err := s.QueryContacts(ctx, scope, filter, Page{})
	if err != nil {
		return err
	}
	rows := make([]export.Row, 0, len(result.Contacts))
	for _, view := range result.Contacts {
		fields, _ := view.Fields()
		rows = append(rows, export.Row{
			Fields:          fields,
			Status:          string(view.Status),
			ActivitiesCount: view.ActivitiesCount,
			InPipeline:      view.InPipeline,
		})
	}
	if err := export.Write(w, rows, options); err != nil {
		return s.storeFailure(opExport, reasonWriteFailed, err, zap.String("list_id", scope.ListID))
	}
	return nil
}
