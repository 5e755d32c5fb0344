// Package department maps conversations to the business department that
// governs their delivery channel and AI behavior.
package department

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/bitcodr/waplane/internal/domain"
)

// DefaultCacheTTL bounds how long a department row is served from cache.
// A department definition rarely changes; one minute keeps triage
// reassignments visible quickly enough.
const DefaultCacheTTL = time.Minute

type cacheEntry struct {
	dept      *domain.Department
	expiresAt time.Time
}

type Resolver struct {
	db  *gorm.DB
	ttl time.Duration

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

func NewResolver(db *gorm.DB, ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Resolver{db: db, ttl: ttl, cache: make(map[string]cacheEntry)}
}

// Resolve returns the department governing the conversation with the given
// phone number, or nil for un-triaged conversations. Callers must treat nil
// as "no specialized routing".
func (r *Resolver) Resolve(ctx context.Context, phone string) (*domain.Department, error) {
	var conv domain.Conversation
	err := r.db.WithContext(ctx).Select("department_code").Where("phone = ?", phone).First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "department: resolve conversation")
	}
	if conv.DepartmentCode == "" {
		return nil, nil
	}
	return r.ByCode(ctx, conv.DepartmentCode)
}

// ByCode loads a department by code, serving repeated lookups within the
// cache TTL from memory. Unknown codes resolve to nil without error.
func (r *Resolver) ByCode(ctx context.Context, code string) (*domain.Department, error) {
	if code == "" {
		return nil, nil
	}
	r.mu.RLock()
	entry, hit := r.cache[code]
	r.mu.RUnlock()
	if hit && time.Now().Before(entry.expiresAt) {
		return entry.dept, nil
	}

	var dept domain.Department
	err := r.db.WithContext(ctx).Where("code = ?", code).First(&dept).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		r.store(code, nil)
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "department: load by code")
	}
	r.store(code, &dept)
	return &dept, nil
}

func (r *Resolver) store(code string, dept *domain.Department) {
	r.mu.Lock()
	r.cache[code] = cacheEntry{dept: dept, expiresAt: time.Now().Add(r.ttl)}
	r.mu.Unlock()
}

// Invalidate drops a cached department, used after triage reassignment.
func (r *Resolver) Invalidate(code string) {
	r.mu.Lock()
	delete(r.cache, code)
	r.mu.Unlock()
}

// ChannelFor returns the delivery channel for a department. Un-triaged
// conversations (nil department) and departments without an explicit channel
// default to the direct Cloud API channel.
func ChannelFor(dept *domain.Department) string {
	if dept == nil || dept.Channel == "" {
		return domain.ChannelCloud
	}
	return dept.Channel
}
