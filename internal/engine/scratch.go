package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/bqdrift/bqdrift/internal/warehouse"
	"github.com/bqdrift/bqdrift/pkg/core"
)

// ScratchTable describes one table in the scratch project.
type ScratchTable struct {
	Dataset string
	Table   string
	Created string
	Expires string
}

// ScratchList enumerates tables in the scratch project belonging to
// datasets the repository writes.
func (e *Engine) ScratchList(ctx context.Context) ([]ScratchTable, error) {
	if e.cfg.ScratchProject == "" {
		return nil, fmt.Errorf("no scratch project configured")
	}

	datasets := map[string]bool{}
	for _, q := range e.repo.Queries {
		datasets[q.Destination.Dataset] = true
	}
	names := make([]string, 0, len(datasets))
	for d := range datasets {
		names = append(names, d)
	}
	sort.Strings(names)

	var out []ScratchTable
	for _, dataset := range names {
		sql := fmt.Sprintf(
			"SELECT table_name, creation_time, expiration_time FROM `%s.%s.INFORMATION_SCHEMA.TABLES` ORDER BY table_name",
			e.cfg.ScratchProject, dataset)
		rows, err := e.client.Query(ctx, sql, nil)
		if err != nil {
			// A dataset missing from the scratch project just means
			// nothing has been staged there.
			e.logger.Debug("scratch dataset not readable", "dataset", dataset, "error", err)
			continue
		}
		for _, r := range rows {
			out = append(out, ScratchTable{
				Dataset: dataset,
				Table:   str(r["table_name"]),
				Created: str(r["creation_time"]),
				Expires: str(r["expiration_time"]),
			})
		}
	}
	return out, nil
}

// ScratchPromote copies one scratch partition over the production
// partition. It writes no state or history row, so the partition's
// recorded state is unchanged by the copy.
func (e *Engine) ScratchPromote(ctx context.Context, q *core.Query, key core.PartitionKey) (warehouse.JobStats, error) {
	if e.cfg.ScratchProject == "" {
		return warehouse.JobStats{}, fmt.Errorf("no scratch project configured")
	}
	scratch := warehouse.Table{
		Project: e.cfg.ScratchProject,
		Dataset: q.Destination.Dataset,
		Table:   q.Destination.Table,
	}
	prod := warehouse.Table{
		Project:   e.cfg.Project,
		Dataset:   q.Destination.Dataset,
		Table:     q.Destination.Table,
		Decorator: warehouse.TableDecorator(key),
	}

	field := q.Destination.Partition.Field
	sql := fmt.Sprintf("SELECT * FROM `%s` WHERE %s = @partition_date", scratch.Ref(), field)
	stats, err := e.client.ExecuteInto(ctx, sql, warehouse.Params{
		"partition_date": warehouse.PartitionParam(key),
	}, prod)
	if err != nil {
		return stats, err
	}
	e.logger.Info("scratch partition promoted", "query", q.Name, "partition", key.String())
	return stats, nil
}

func str(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}
