package catalog

import (
	"context"
	"strings"
	"time"

	"github.com/R3E-Network/cloudless/internal/app/domain/item"
	"github.com/R3E-Network/cloudless/internal/app/table"
	"github.com/R3E-Network/cloudless/internal/app/validation"
	"github.com/R3E-Network/cloudless/internal/errors"
)

// Search holds the optional conditions of a find. Empty conditions are
// ignored. The creation-time range applies only when both bounds are set.
// A zero PageNo disables paging.
type Search struct {
	ID        string     `json:"id,omitempty"`
	Status    []string   `json:"status,omitempty"`
	StartTime *time.Time `json:"startTime,omitempty"`
	EndTime   *time.Time `json:"endTime,omitempty"`
	Keyword   string     `json:"keyword,omitempty"`
	PageNo    int        `json:"pageNo,omitempty"`
	PageSize  int        `json:"pageSize,omitempty"`
}

func (s Search) pageNo() int {
	if s.PageNo == 0 {
		return table.NoPaging
	}
	return s.PageNo
}

// active lists the names of the conditions that constrain the search.
func (s Search) active() []string {
	var out []string
	if s.ID != "" {
		out = append(out, "id")
	}
	if len(s.Status) > 0 {
		out = append(out, "status")
	}
	if s.StartTime != nil && s.EndTime != nil {
		out = append(out, "created_at")
	}
	if strings.TrimSpace(s.Keyword) != "" {
		out = append(out, "keyword")
	}
	return out
}

func (s *Service) searchBuilder(in Search) *table.Builder[*item.Item] {
	var start, end time.Time
	if in.StartTime != nil {
		start = in.StartTime.UTC()
	}
	if in.EndTime != nil {
		end = in.EndTime.UTC()
	}
	keyword := strings.TrimSpace(in.Keyword)

	return s.items.Use().
		Where(table.Eq(item.ID, in.ID), in.ID == "").
		Where(table.In(item.Status, in.Status), len(in.Status) == 0).
		Where(table.Between(item.CreatedAt, start, end), in.StartTime == nil || in.EndTime == nil).
		Where(table.ILike(keyword, item.Name, item.Code), keyword == "")
}

// Find returns the matching items, newest first. Total is reported only
// when paging is enabled.
func (s *Service) Find(ctx context.Context, in Search) (table.DataList[*item.Item], error) {
	return s.searchBuilder(in).
		Paging(in.pageNo(), in.PageSize).
		OrderByDesc(item.ID).
		Page(ctx)
}

// Get loads one item, serving repeated reads from the cache.
func (s *Service) Get(ctx context.Context, id string) (*item.Item, error) {
	if id == "" {
		return nil, errors.Validation("id", "id is required")
	}
	var cached item.Item
	hit, err := s.cache.Get(ctx, cacheKey(id), &cached)
	if err != nil {
		s.log.WithContext(ctx).WithError(err).Warn("Item cache read failed")
	}
	if hit && err == nil {
		return &cached, nil
	}

	it, err := s.items.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, cacheKey(id), it, s.cacheTTL); err != nil {
		s.log.WithContext(ctx).WithError(err).Warn("Item cache write failed")
	}
	return it, nil
}

// Insert validates and stores a new item. An identifier is generated when
// absent.
func (s *Service) Insert(ctx context.Context, it *item.Item) error {
	if it == nil {
		return errors.Validation("item", "item is required")
	}
	if err := requireName(it); err != nil {
		return err
	}
	generated := it.ID == ""
	if generated {
		it.ID = table.NewID()
	}
	if it.Status == "" {
		it.Status = item.StatusActive
	}
	err := s.validator.Guard(ctx, validation.Create, it, func(ctx context.Context) error {
		return s.items.Insert(ctx, it)
	})
	if err != nil {
		if generated {
			it.ID = ""
		}
		return err
	}
	s.log.WithContext(ctx).Infof("item %s created", it.ID)
	return nil
}

// Update replaces a stored item. The creation time is kept when the caller
// omits it.
func (s *Service) Update(ctx context.Context, it *item.Item) error {
	if it == nil {
		return errors.Validation("item", "item is required")
	}
	if it.ID != "" {
		if err := requireName(it); err != nil {
			return err
		}
	}
	err := s.validator.Guard(ctx, validation.Update, it, func(ctx context.Context) error {
		current, err := s.items.Get(ctx, it.ID)
		if err != nil {
			return err
		}
		if it.CreatedAt.IsZero() {
			it.CreatedAt = current.CreatedAt
		}
		if it.Status == "" {
			it.Status = current.Status
		}
		return s.items.Update(ctx, it)
	})
	if err != nil {
		return err
	}
	s.evict(ctx, it.ID)
	s.log.WithContext(ctx).Infof("item %s updated", it.ID)
	return nil
}

// Delete removes an item unless a reference rule refuses it. It reports
// how many rows were removed; deleting an unknown id removes none.
func (s *Service) Delete(ctx context.Context, id string) (int64, error) {
	target := &item.Item{}
	target.ID = id
	var removed int64
	err := s.validator.Guard(ctx, validation.Delete, target, func(ctx context.Context) error {
		n, err := s.items.Use().Where(table.Eq(item.ID, id), false).Delete(ctx)
		removed = n
		return err
	})
	if err != nil {
		return 0, err
	}
	s.evict(ctx, id)
	if removed > 0 {
		s.log.WithContext(ctx).Infof("item %s deleted", id)
	}
	return removed, nil
}

func (s *Service) evict(ctx context.Context, id string) {
	if err := s.cache.Del(ctx, cacheKey(id)); err != nil {
		s.log.WithContext(ctx).WithError(err).Warn("Item cache eviction failed")
	}
}

func cacheKey(id string) string { return "item:" + id }

func requireName(it *item.Item) error {
	it.Name = strings.TrimSpace(it.Name)
	if it.Name == "" {
		return errors.Validation("name", "name is required")
	}
	return nil
}

// Method adapters.

type idParams struct {
	ID string `json:"id"`
}

type deleteResult struct {
	Deleted int64 `json:"deleted"`
}

func (s *Service) getMethod(ctx context.Context, in idParams) (*item.Item, error) {
	return s.Get(ctx, in.ID)
}

func (s *Service) insertMethod(ctx context.Context, in item.Item) (*item.Item, error) {
	it := in
	if err := s.Insert(ctx, &it); err != nil {
		return nil, err
	}
	return &it, nil
}

func (s *Service) updateMethod(ctx context.Context, in item.Item) (*item.Item, error) {
	it := in
	if err := s.Update(ctx, &it); err != nil {
		return nil, err
	}
	return &it, nil
}

func (s *Service) deleteMethod(ctx context.Context, in idParams) (deleteResult, error) {
	n, err := s.Delete(ctx, in.ID)
	if err != nil {
		return deleteResult{}, err
	}
	return deleteResult{Deleted: n}, nil
}
