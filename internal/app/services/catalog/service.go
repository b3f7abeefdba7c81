// Package catalog is the reference service: CRUD, search, export and import
// over the items collection, plus examples of each method tier.
package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/R3E-Network/cloudless/internal/app/async"
	"github.com/R3E-Network/cloudless/internal/app/cache"
	"github.com/R3E-Network/cloudless/internal/app/core/service"
	"github.com/R3E-Network/cloudless/internal/app/domain/item"
	"github.com/R3E-Network/cloudless/internal/app/table"
	"github.com/R3E-Network/cloudless/internal/app/transfer"
	"github.com/R3E-Network/cloudless/internal/app/validation"
	"github.com/R3E-Network/cloudless/internal/logging"
)

// Name is the service name used in method addresses.
const Name = "catalog"

// Options carries the optional collaborators of the service.
type Options struct {
	// Locker serializes uniqueness checks with the writes that follow.
	Locker validation.Locker
	// References are delete-mode rules refusing removal of items still in
	// use elsewhere. See validation.NotReferenced.
	References []validation.Rule[*item.Item]
	Cache      cache.Cache
	CacheTTL   time.Duration
	Runner     *async.Runner
	Files      transfer.FileStore
	Codec      transfer.Codec
	// Seed is inserted by Init when the collection is empty.
	Seed   []*item.Item
	Logger *logging.Logger
}

// Service manages catalog items.
type Service struct {
	items     *table.Table[*item.Item]
	validator *validation.Validator[*item.Item]
	cache     cache.Cache
	cacheTTL  time.Duration
	runner    *async.Runner
	files     transfer.FileStore
	codec     transfer.Codec
	seed      []*item.Item
	log       *logging.Logger
	now       func() time.Time
}

// New constructs a catalog service over items.
func New(items *table.Table[*item.Item], opts Options) *Service {
	log := opts.Logger
	if log == nil {
		log = logging.NewDefault(Name)
	}
	rules := []validation.Rule[*item.Item]{
		validation.RequireID[*item.Item](),
		validation.Unique(items, item.Name),
	}
	rules = append(rules, opts.References...)
	v := validation.New(rules...)
	if opts.Locker != nil {
		v.WithLocker(opts.Locker)
	}

	c := opts.Cache
	if c == nil {
		c = cache.NewMemory(1024, time.Hour)
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	runner := opts.Runner
	if runner == nil {
		runner = async.NewRunner(1, log.Named("async"))
	}
	files := opts.Files
	if files == nil {
		files = transfer.NewMemoryStore()
	}
	codec := opts.Codec
	if codec == nil {
		codec = transfer.XLSX{}
	}

	return &Service{
		items:     items,
		validator: v,
		cache:     c,
		cacheTTL:  ttl,
		runner:    runner,
		files:     files,
		codec:     codec,
		seed:      opts.Seed,
		log:       log,
		now:       table.Now,
	}
}

// Info describes the service.
func (s *Service) Info() service.ServiceInfo {
	return service.ServiceInfo{
		Name:        Name,
		Description: "Catalog items with search, export and import",
		Author:      "platform",
		Date:        "2025-01-08",
	}
}

// Init prepares the items collection and its indexes. It is safe to run on
// every startup.
func (s *Service) Init(ctx context.Context) error {
	if err := s.items.EnsureCollection(ctx); err != nil {
		return err
	}
	if err := s.items.DeclareIndex(ctx, table.BTree, item.Code); err != nil {
		return err
	}
	if err := s.items.DeclareUniqueIndex(ctx, item.Name); err != nil {
		return err
	}
	if err := s.items.DeclareIndex(ctx, table.BRIN, item.CreatedAt); err != nil {
		return err
	}

	if len(s.seed) == 0 {
		return nil
	}
	exists, err := s.items.Use().Exist(ctx)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	for _, it := range s.seed {
		if err := s.Insert(ctx, it.Clone()); err != nil {
			return fmt.Errorf("seed item %q: %w", it.Name, err)
		}
	}
	s.log.Infof("seeded %d catalog items", len(s.seed))
	return nil
}

// Register adds the service and its methods to reg.
func (s *Service) Register(reg *service.Registry) error {
	if err := reg.RegisterService(s.Info()); err != nil {
		return err
	}
	for _, m := range s.methods() {
		if err := reg.Register(m.desc, m.handler); err != nil {
			return err
		}
	}
	return nil
}

// Runner returns the runner used for deferred work so the application can
// manage its lifecycle.
func (s *Service) Runner() *async.Runner { return s.runner }

type method struct {
	desc    service.Descriptor
	handler service.Handler
}

func (s *Service) methods() []method {
	d := func(name, description string, tier service.Tier) service.Descriptor {
		return service.Descriptor{
			Service:     Name,
			Name:        name,
			Description: description,
			Tier:        tier,
			Status:      service.StatusComplete,
		}
	}

	draft := d("draftPreview", "Preview of the next search format", service.Controlled)
	draft.Status = service.StatusDraft

	return []method{
		{d("publicMethod", "Public example method", service.Public), service.Typed(s.publicMethod)},
		{d("find", "Search items", service.Controlled), service.Typed(s.Find)},
		{
			d("get", "Load one item", service.Controlled).WithParams(
				service.Param{Name: "id", Type: "string", Description: "item id", Required: true},
			),
			service.Typed(s.getMethod),
		},
		{d("insert", "Create an item", service.Controlled), service.Typed(s.insertMethod)},
		{d("update", "Replace an item", service.Controlled), service.Typed(s.updateMethod)},
		{
			d("delete", "Delete an item", service.Controlled).WithParams(
				service.Param{Name: "id", Type: "string", Description: "item id", Required: true},
			),
			service.Typed(s.deleteMethod),
		},
		{d("checkSystem", "Host status", service.Protected), service.Typed(s.CheckSystem)},
		{
			d("export", "Export search results to a file", service.Controlled).WithParams(
				service.Param{Name: "search", Type: "object", Description: "search conditions"},
				service.Param{Name: "items", Type: "array", Description: "exported columns", Required: true},
				service.Param{Name: "fileName", Type: "string", Description: "file name", Required: true},
			),
			service.Typed(s.Export),
		},
		{
			d("importInsert", "Insert every row of an uploaded file", service.Controlled).WithParams(
				service.Param{Name: "fileId", Type: "string", Description: "file id", Required: true},
			),
			service.Typed(s.Import),
		},
		{
			d("processData", "Utility showcase", service.Public).WithParams(
				service.Param{Name: "input", Type: "string", Description: "input data"},
			),
			service.Typed(s.ProcessData),
		},
		{draft, service.Typed(s.draftPreview)},
	}
}

type empty struct{}

func (s *Service) publicMethod(ctx context.Context, _ empty) (string, error) {
	s.log.WithContext(ctx).Info("Public method executed")
	return "result", nil
}

// draftPreview is registered as a draft and only runs where drafts are
// allowed.
func (s *Service) draftPreview(ctx context.Context, search Search) (map[string]any, error) {
	n, err := s.searchBuilder(search).Count(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"matches": n, "conditions": search.active()}, nil
}
