package producer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/reproq/reproq/internal/canonical"
	"github.com/reproq/reproq/internal/domain"
	"github.com/reproq/reproq/internal/repository"
	"github.com/reproq/reproq/internal/specvalue"
)

// Options controls per-call producer behavior.
type Options struct {
	// Dedup enables the in-flight dedup check of spec.md §4.2 step 6.
	// Defaults to true; the zero value of Options must therefore be
	// constructed via DefaultOptions, not the struct literal.
	Dedup bool
}

func DefaultOptions() Options { return Options{Dedup: true} }

// Producer implements spec.md §4.2. One Producer may front several
// database aliases, selected per-queue via Router.
type Producer struct {
	repos     map[string]repository.TaskRunRepository
	allowlist map[string]struct{}
	router    *Router
	logger    *slog.Logger
}

func New(repos map[string]repository.TaskRunRepository, allowedQueues []string, router *Router, logger *slog.Logger) *Producer {
	allow := make(map[string]struct{}, len(allowedQueues))
	for _, q := range allowedQueues {
		allow[q] = struct{}{}
	}
	return &Producer{
		repos:     repos,
		allowlist: allow,
		router:    router,
		logger:    logger.With("component", "producer"),
	}
}

// Enqueue implements spec.md §4.2's single-spec enqueue operation.
func (p *Producer) Enqueue(ctx context.Context, spec EnqueueSpec, opts Options) (Handle, error) {
	if _, ok := p.allowlist[spec.QueueName]; !ok {
		return Handle{}, fmt.Errorf("queue %q: %w", spec.QueueName, domain.ErrUnknownQueue)
	}

	now := time.Now().UTC()
	runAfter := spec.RunAfter.Resolve(now)

	canonical, hash, err := p.canonicalize(spec, runAfter)
	if err != nil {
		return Handle{}, fmt.Errorf("canonicalize spec: %w", err)
	}

	alias := p.router.Resolve(spec.QueueName)
	repo, ok := p.repos[alias]
	if !ok {
		return Handle{}, fmt.Errorf("no repository configured for database alias %q", alias)
	}

	if opts.Dedup {
		if existing, err := repo.FindInFlight(ctx, hash); err != nil {
			return Handle{}, fmt.Errorf("dedup lookup: %w", err)
		} else if existing != nil {
			return Handle{ResultID: existing.ResultID, repo: repo}, nil
		}
	}

	run := p.buildRun(spec, canonical, hash, runAfter)
	created, err := repo.Insert(ctx, run)
	if err == nil {
		return Handle{ResultID: created.ResultID, repo: repo}, nil
	}
	if !errors.Is(err, domain.ErrEnqueueConflict) {
		return Handle{}, fmt.Errorf("insert task run: %w", err)
	}

	// A concurrent enqueue won the unique-index race (spec.md §4.2 step 7):
	// retry the SELECT.
	if existing, findErr := repo.FindInFlight(ctx, hash); findErr != nil {
		return Handle{}, fmt.Errorf("dedup lookup after conflict: %w", findErr)
	} else if existing != nil {
		return Handle{ResultID: existing.ResultID, repo: repo}, nil
	}

	// The winner already finished between our insert and our re-select:
	// retry the insert once.
	created, err = repo.Insert(ctx, run)
	if err != nil {
		return Handle{}, fmt.Errorf("%w: %v", domain.ErrEnqueueConflict, err)
	}
	return Handle{ResultID: created.ResultID, repo: repo}, nil
}

// BulkEnqueue implements spec.md §4.2's "Bulk enqueue": group by
// target alias, pre-fetch dedup matches in chunks of <=1000, insert
// the remainder with conflict-ignore, then reload ids for matched
// hashes. Handles are returned in input order.
func (p *Producer) BulkEnqueue(ctx context.Context, specs []EnqueueSpec, opts Options) ([]Handle, error) {
	type prepared struct {
		idx      int
		alias    string
		hash     string
		runAfter *time.Time
		canon    []byte
		run      *domain.TaskRun
	}

	now := time.Now().UTC()
	handles := make([]Handle, len(specs))
	byAlias := make(map[string][]prepared)

	for i, spec := range specs {
		if _, ok := p.allowlist[spec.QueueName]; !ok {
			return nil, fmt.Errorf("queue %q: %w", spec.QueueName, domain.ErrUnknownQueue)
		}
		runAfter := spec.RunAfter.Resolve(now)
		canon, hash, err := p.canonicalize(spec, runAfter)
		if err != nil {
			return nil, fmt.Errorf("canonicalize spec %d: %w", i, err)
		}
		alias := p.router.Resolve(spec.QueueName)
		run := p.buildRun(spec, canon, hash, runAfter)
		byAlias[alias] = append(byAlias[alias], prepared{idx: i, alias: alias, hash: hash, runAfter: runAfter, canon: canon, run: run})
	}

	const chunkSize = 1000
	for alias, group := range byAlias {
		repo, ok := p.repos[alias]
		if !ok {
			return nil, fmt.Errorf("no repository configured for database alias %q", alias)
		}

		matched := make(map[string]int64)
		if opts.Dedup {
			hashes := make([]string, len(group))
			for i, g := range group {
				hashes[i] = g.hash
			}
			for start := 0; start < len(hashes); start += chunkSize {
				end := min(start+chunkSize, len(hashes))
				found, err := repo.BulkFindInFlight(ctx, hashes[start:end])
				if err != nil {
					return nil, fmt.Errorf("bulk dedup lookup: %w", err)
				}
				for h, id := range found {
					matched[h] = id
				}
			}
		}

		var toInsert []*domain.TaskRun
		var toInsertPrepared []prepared
		for _, g := range group {
			if id, ok := matched[g.hash]; ok {
				handles[g.idx] = Handle{ResultID: id, repo: repo}
				continue
			}
			toInsert = append(toInsert, g.run)
			toInsertPrepared = append(toInsertPrepared, g)
		}

		if len(toInsert) > 0 {
			if err := repo.BulkInsert(ctx, toInsert); err != nil {
				return nil, fmt.Errorf("bulk insert: %w", err)
			}
			var unresolved []string
			unresolvedIdx := make(map[string]prepared)
			for i, g := range toInsertPrepared {
				if toInsert[i].ResultID != 0 {
					handles[g.idx] = Handle{ResultID: toInsert[i].ResultID, repo: repo}
					continue
				}
				unresolved = append(unresolved, g.hash)
				unresolvedIdx[g.hash] = g
			}
			if len(unresolved) > 0 {
				// A concurrent enqueue (another bulk call, or a single
				// Enqueue) won these hashes between our pre-fetch and
				// our insert; reload them.
				found, err := repo.BulkFindInFlight(ctx, unresolved)
				if err != nil {
					return nil, fmt.Errorf("reload conflicted hashes: %w", err)
				}
				for hash, g := range unresolvedIdx {
					id, ok := found[hash]
					if !ok {
						return nil, fmt.Errorf("hash %s: %w", hash, domain.ErrEnqueueConflict)
					}
					handles[g.idx] = Handle{ResultID: id, repo: repo}
				}
			}
		}
	}

	return handles, nil
}

func (p *Producer) buildRun(spec EnqueueSpec, canonicalSpec []byte, hash string, runAfter *time.Time) *domain.TaskRun {
	status := domain.StatusReady
	return &domain.TaskRun{
		QueueName:        spec.QueueName,
		Priority:         spec.Priority,
		LockKey:          spec.LockKey,
		ConcurrencyKey:   spec.ConcurrencyKey,
		ConcurrencyLimit: spec.ConcurrencyLimit,
		Spec:             canonicalSpec,
		SpecHash:         hash,
		RunAfter:         runAfter,
		Status:           status,
		MaxAttempts:      spec.MaxAttempts,
		TimeoutSeconds:   spec.TimeoutSeconds,
	}
}

// canonicalize builds the full enqueue envelope of spec.md §6 as a
// specvalue.Value tree and renders it through internal/canonical,
// implementing spec.md §4.1 and §4.2 step 4.
func (p *Producer) canonicalize(spec EnqueueSpec, runAfter *time.Time) ([]byte, string, error) {
	kwargs := make(map[string]specvalue.Value, len(spec.Kwargs))
	for k, v := range spec.Kwargs {
		kwargs[k] = v
	}

	m := map[string]specvalue.Value{
		"v":             specvalue.Int(SchemaVersion),
		"task_path":     specvalue.String(spec.TaskPath),
		"args":          specvalue.Sequence(spec.Args...),
		"kwargs":        specvalue.Mapping(kwargs),
		"takes_context": specvalue.Bool(spec.TakesContext),
		"queue_name":    specvalue.String(spec.QueueName),
		"priority":      specvalue.Int(int64(spec.Priority)),
		"exec": specvalue.Mapping(map[string]specvalue.Value{
			"timeout_seconds": specvalue.Int(int64(spec.TimeoutSeconds)),
			"max_attempts":    specvalue.Int(int64(spec.MaxAttempts)),
		}),
	}
	if runAfter != nil {
		m["run_after"] = specvalue.String(runAfter.Format(time.RFC3339Nano))
	} else {
		m["run_after"] = specvalue.Null()
	}
	if spec.LockKey != nil {
		m["lock_key"] = specvalue.String(*spec.LockKey)
	}
	if spec.ConcurrencyKey != nil {
		m["concurrency_key"] = specvalue.String(*spec.ConcurrencyKey)
		m["concurrency_limit"] = specvalue.Int(int64(spec.ConcurrencyLimit))
	}
	if len(spec.Provenance) > 0 {
		prov := make(map[string]specvalue.Value, len(spec.Provenance))
		for k, v := range spec.Provenance {
			prov[k] = specvalue.String(v)
		}
		m["provenance"] = specvalue.Mapping(prov)
	}

	value := specvalue.Mapping(m)
	b, err := canonical.Encode(value)
	if err != nil {
		return nil, "", err
	}
	hash, err := canonical.Fingerprint(value)
	if err != nil {
		return nil, "", err
	}
	return b, hash, nil
}

// DecodeSpec decodes canonical spec JSON bytes into a generic map.
// Enqueue does not use it.
func DecodeSpec(b []byte) (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
