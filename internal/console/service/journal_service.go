package service

import (
	"context"

	"github.com/xela07ax/pixel-gateway/internal/journal"
)

// JournalReader — срез журнала доставки для консоли
type JournalReader interface {
	ListRecent(ctx context.Context, visitorID string, limit int) ([]journal.Entry, error)
}

type JournalService struct {
	repo JournalReader
}

func NewJournalService(repo JournalReader) *JournalService {
	return &JournalService{repo: repo}
}

func (s *JournalService) Recent(ctx context.Context, visitorID string, limit int) ([]journal.Entry, error) {
	return s.repo.ListRecent(ctx, visitorID, limit)
}
