package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/pantry/internal/model"
	"github.com/roach88/pantry/internal/store"
)

// StatusReport describes the local database.
type StatusReport struct {
	Database        string                `json:"database"`
	SchemaVersion   int                   `json:"schema_version"`
	Pending         int                   `json:"pending"`
	Failed          int                   `json:"failed"`
	CachedResponses int                   `json:"cached_responses"`
	CacheEntries    int                   `json:"cache_entries"`
	Collections     []model.StoreMetadata `json:"collections"`
}

func (r StatusReport) RenderText(w io.Writer) {
	fmt.Fprintf(w, "Database:          %s (schema v%d)\n", r.Database, r.SchemaVersion)
	fmt.Fprintf(w, "Queued actions:    %d pending, %d failed\n", r.Pending, r.Failed)
	fmt.Fprintf(w, "Cached responses:  %d\n", r.CachedResponses)
	fmt.Fprintf(w, "TTL cache entries: %d\n", r.CacheEntries)
	if len(r.Collections) == 0 {
		fmt.Fprintln(w, "Collections:       none synced")
		return
	}
	fmt.Fprintln(w, "Collections:")
	for _, md := range r.Collections {
		fmt.Fprintf(w, "  %-12s %d records, last bulk write %s\n",
			md.CollectionKey, md.RecordCount, md.LastBulkWrite.Format(time.RFC3339))
	}
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue and cache statistics for the local database",
		Example: `  pantry status --db ./pantry.db
  pantry status --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(rootOpts, cmd, func(ctx context.Context, st *store.Store, out *OutputFormatter) error {
				report, err := buildStatusReport(ctx, st)
				if err != nil {
					return out.Fail(ExitCommandError, CodeStorage, "failed to read status", err)
				}
				return out.Success(report)
			})
		},
	}
}

func buildStatusReport(ctx context.Context, st *store.Store) (StatusReport, error) {
	r := StatusReport{Database: st.Path()}
	var err error
	if r.SchemaVersion, err = st.SchemaVersion(ctx); err != nil {
		return r, err
	}
	if r.Pending, err = st.CountActions(ctx, model.StatusPending); err != nil {
		return r, err
	}
	if r.Failed, err = st.CountActions(ctx, model.StatusFailed); err != nil {
		return r, err
	}
	if r.CachedResponses, err = st.CountResponses(ctx); err != nil {
		return r, err
	}
	if r.CacheEntries, err = st.Len(ctx); err != nil {
		return r, err
	}
	if r.Collections, err = st.AllMetadata(ctx); err != nil {
		return r, err
	}
	return r, nil
}
