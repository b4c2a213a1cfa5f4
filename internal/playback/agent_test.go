package playback

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redsquare/screen-booking/internal/model"
)

type fakeHeartbeat struct {
	calls   int
	version string
	err     error
}

func (f *fakeHeartbeat) Heartbeat(ctx context.Context, status, appVersion string) error {
	f.calls++
	f.version = appVersion
	return f.err
}

func TestAgent_RefreshThenTick(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	now := t0.Add(2 * time.Second)
	sc := &fakeSync{reply: func(int) ([]model.ContentItem, error) {
		return []model.ContentItem{
			{ID: 1, URL: "/v1/objects/media/a.png", Type: model.ContentImage, ScheduledTime: t0, DurationSeconds: 10},
			{ID: 2, URL: "/v1/objects/media/b.mp4", Type: model.ContentVideo, ScheduledTime: t0.Add(time.Minute)},
		}, nil
	}}
	cache, _ := NewContentCache(8, 0, nil)
	s, err := NewScheduler(Options{
		Sync: sc, Signer: &fakeSigner{}, Fetcher: &fakeFetcher{}, Cache: cache, Dir: t.TempDir(),
		Now: func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	a := NewAgent(AgentConfig{ScreenID: 4, AppVersion: "1.2.3"}, s, &fakeHeartbeat{}, nil)

	a.Refresh(context.Background())
	st := a.Tick()
	if st.Current == nil || st.Current.ID != 1 || st.File == "" {
		t.Fatalf("expected item 1 playing from cache, got %+v", st)
	}
	if st.Next == nil || st.Next.ID != 2 {
		t.Fatalf("expected item 2 next, got %+v", st.Next)
	}

	now = t0.Add(30 * time.Second)
	if st := a.Tick(); st.Current != nil {
		t.Fatalf("expected idle between items, got %+v", st.Current)
	}
}

func TestAgent_RefreshFailureStillCachesPreviousSchedule(t *testing.T) {
	sc := &fakeSync{reply: func(call int) ([]model.ContentItem, error) {
		if call == 1 {
			return []model.ContentItem{item(1, "a.png")}, nil
		}
		return nil, errors.New("offline")
	}}
	fetcher := &fakeFetcher{fail: map[string]int{"https://objects.test/media/a.png?token=t": 1}}
	s := newTestScheduler(t, sc, &fakeSigner{}, fetcher)
	a := NewAgent(AgentConfig{ScreenID: 1}, s, nil, nil)

	a.Refresh(context.Background()) // schedule applied, download fails
	if _, ok := s.Cached(1); ok {
		t.Fatalf("expected the first download to fail")
	}
	a.Refresh(context.Background()) // fetch fails, previous schedule retried
	if _, ok := s.Cached(1); !ok {
		t.Fatalf("expected the previous schedule's item to be cached on retry")
	}
}

func TestAgent_Heartbeat(t *testing.T) {
	hb := &fakeHeartbeat{}
	a := NewAgent(AgentConfig{AppVersion: "9.9.9"}, nil, hb, nil)
	a.Heartbeat(context.Background())
	hb.err = errors.New("503")
	a.Heartbeat(context.Background())
	if hb.calls != 2 || hb.version != "9.9.9" {
		t.Fatalf("unexpected heartbeat calls %d version %q", hb.calls, hb.version)
	}
}
