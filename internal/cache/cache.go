package cache

import (
	"context"
	"time"

	"github.com/LeventeLantos/message-scheduler/internal/model"
)

type OutcomeCache interface {
	StoreOutcome(ctx context.Context, id string, status model.Status, lastError string, at time.Time) error
}
