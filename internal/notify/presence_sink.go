package notify

import (
	"context"

	"gridsync/internal/grid/models"
	"gridsync/internal/presence"
)

// Broadcaster fans a frame out to routing groups.
type Broadcaster interface {
	BroadcastTo(ctx context.Context, msgType string, groups []string, frame []byte)
}

// RemoteUpdate is the payload of remote_update.
type RemoteUpdate struct {
	ID      int64  `json:"id"`
	Field   string `json:"field"`
	Value   any    `json:"value"`
	Actor   string `json:"actor"`
	ActorID int64  `json:"actor_id"`
}

// PresenceSink pushes remote_update to the row's district group and the admin
// group.
type PresenceSink struct {
	out Broadcaster
}

func NewPresenceSink(out Broadcaster) *PresenceSink {
	return &PresenceSink{out: out}
}

func (s *PresenceSink) Name() string { return "presence" }

func (s *PresenceSink) Deliver(ctx context.Context, c models.Change) error {
	frame, err := presence.Encode(presence.TypeRemoteUpdate, RemoteUpdate{
		ID:      c.RowID,
		Field:   c.Field,
		Value:   c.Value,
		Actor:   c.ActorLogin,
		ActorID: c.ActorID,
	})
	if err != nil {
		return err
	}
	s.out.BroadcastTo(ctx, presence.TypeRemoteUpdate,
		[]string{presence.DistrictGroup(c.DistrictID), presence.AdminGroup}, frame)
	return nil
}
