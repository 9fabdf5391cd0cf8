package lease

import (
	"context"
	"encoding/json"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// RevokeFunc is invoked by the sweeper for every expired lease before its
// storage record is removed, so the caller can revoke the underlying
// engine-side grant first.
type RevokeFunc func(ctx context.Context, e Entry) error

// Sweeper periodically finds and revokes expired leases on a cron schedule.
type Sweeper struct {
	manager *Manager
	revoke  RevokeFunc
	cron    *cron.Cron
}

// NewSweeper constructs a Sweeper that runs on the given cron spec (e.g.
// "@every 30s"). Call Start to begin, Stop to halt.
func NewSweeper(m *Manager, revoke RevokeFunc, spec string) (*Sweeper, error) {
	c := cron.New()
	s := &Sweeper{manager: m, revoke: revoke, cron: c}
	if _, err := c.AddFunc(spec, s.sweepOnce); err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins the periodic sweep in the background.
func (s *Sweeper) Start() { s.cron.Start() }

// Stop halts the schedule so no further sweep starts. It returns without
// waiting for a sweep that is already running.
func (s *Sweeper) Stop() { s.cron.Stop() }

func (s *Sweeper) sweepOnce() {
	ctx := context.Background()
	expired, err := s.manager.FindExpired(ctx)
	if err != nil {
		logrus.WithError(err).Error("lease: sweep failed to list expired leases")
		return
	}

	for _, e := range expired {
		fields := logrus.Fields{"lease_id": e.ID, "engine_path": e.EnginePath}
		if len(e.Data) > 0 {
			if raw, err := json.Marshal(e.Data); err == nil {
				if role := gjson.GetBytes(raw, "role"); role.Exists() {
					fields["role"] = role.String()
				}
			}
		}
		logrus.WithFields(fields).Info("lease: revoking expired lease")

		if s.revoke != nil {
			if err := s.revoke(ctx, e); err != nil {
				logrus.WithError(err).WithField("lease_id", e.ID).Error("lease: engine-side revocation failed, leaving lease record")
				continue
			}
		}
		if err := s.manager.Revoke(ctx, e.ID); err != nil {
			logrus.WithError(err).WithField("lease_id", e.ID).Error("lease: failed to remove lease record")
		}
	}
}

