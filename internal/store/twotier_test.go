package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/prosim/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore(clock *fakeClock) (*TwoTier, *MemoryDurable) {
	durable := NewMemoryDurable(clock.Now)
	return NewTwoTier(durable, WithClock(clock.Now)), durable
}

func testSession(id string, at time.Time) *domain.Session {
	s := &domain.Session{
		ID:           id,
		UserID:       "u1",
		ScenarioID:   "stakeholder_meeting",
		Persona:      domain.Persona{Name: "Sarah Johnson"},
		Context:      map[string]any{"team": "growth"},
		Phase:        "introduction",
		Status:       domain.StatusActive,
		StartedAt:    at,
		LastActivity: at,
	}
	s.AppendTurn(domain.SpeakerAI, "Hi, walk me through it.", at)
	return s
}

func TestTwoTier_CreateThenGet(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	st, _ := newTestStore(clock)
	ctx := context.Background()

	s := testSession("s1", clock.Now())
	require.NoError(t, st.Create(ctx, s))

	got, err := st.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, s, got)
}

func TestTwoTier_CreateDuplicate(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	st, _ := newTestStore(clock)
	ctx := context.Background()

	require.NoError(t, st.Create(ctx, testSession("s1", clock.Now())))
	err := st.Create(ctx, testSession("s1", clock.Now()))
	assert.True(t, errors.Is(err, domain.ErrDuplicateSession))
}

func TestTwoTier_CreateDuplicateInDurableOnly(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	durable := NewMemoryDurable(clock.Now)
	a := NewTwoTier(durable, WithClock(clock.Now))
	b := NewTwoTier(durable, WithClock(clock.Now))
	ctx := context.Background()

	require.NoError(t, a.Create(ctx, testSession("s1", clock.Now())))
	err := b.Create(ctx, testSession("s1", clock.Now()))
	assert.True(t, errors.Is(err, domain.ErrDuplicateSession))
}

func TestTwoTier_GetReturnsCopy(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	st, _ := newTestStore(clock)
	ctx := context.Background()

	s := testSession("s1", clock.Now())
	require.NoError(t, st.Create(ctx, s))

	// Mutating either the original or a fetched copy must not leak into the store.
	s.AppendTurn(domain.SpeakerUser, "leak", clock.Now())
	got, err := st.Get(ctx, "s1")
	require.NoError(t, err)
	got.AppendTurn(domain.SpeakerUser, "leak", clock.Now())
	got.Phase = "questions"

	again, err := st.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, again.Transcript, 1)
	assert.Equal(t, "introduction", again.Phase)
}

func TestTwoTier_PutOverwrites(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	st, durable := newTestStore(clock)
	ctx := context.Background()

	require.NoError(t, st.Create(ctx, testSession("s1", clock.Now())))
	s, err := st.Get(ctx, "s1")
	require.NoError(t, err)
	s.AppendTurn(domain.SpeakerUser, "Revenue fell 15%.", clock.Now())
	require.NoError(t, st.Put(ctx, s))

	got, err := st.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, got.Transcript, 2)

	fromDurable, err := durable.Load(ctx, Active, "s1")
	require.NoError(t, err)
	assert.Len(t, fromDurable.Transcript, 2)
}

func TestTwoTier_RehydratesFromDurable(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	durable := NewMemoryDurable(clock.Now)
	writer := NewTwoTier(durable, WithClock(clock.Now))
	reader := NewTwoTier(durable, WithClock(clock.Now))
	ctx := context.Background()

	require.NoError(t, writer.Create(ctx, testSession("s1", clock.Now())))
	assert.Equal(t, 0, reader.HotLen())

	got, err := reader.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", got.ID)
	assert.Equal(t, 1, reader.HotLen())
}

func TestTwoTier_RehydratedEntryKeepsDurableExpiry(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	durable := NewMemoryDurable(clock.Now)
	writer := NewTwoTier(durable, WithClock(clock.Now))
	reader := NewTwoTier(durable, WithClock(clock.Now))
	ctx := context.Background()

	require.NoError(t, writer.Create(ctx, testSession("s1", clock.Now())))

	clock.Advance(time.Hour + 59*time.Minute)
	_, err := reader.Get(ctx, "s1")
	require.NoError(t, err)

	clock.Advance(31 * time.Minute)
	_, err = durable.Load(ctx, Active, "s1")
	require.True(t, errors.Is(err, domain.ErrSessionNotFound))

	_, err = reader.Get(ctx, "s1")
	assert.True(t, errors.Is(err, domain.ErrSessionNotFound))
	assert.Equal(t, 0, reader.HotLen())
}

func TestTwoTier_ExpiryIsAuthoritative(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	st, _ := newTestStore(clock)
	ctx := context.Background()

	require.NoError(t, st.Create(ctx, testSession("s1", clock.Now())))
	clock.Advance(DefaultActiveTTL)

	_, err := st.Get(ctx, "s1")
	assert.True(t, errors.Is(err, domain.ErrSessionNotFound))
	assert.Equal(t, 0, st.HotLen())
}

func TestTwoTier_PutRefreshesTTL(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	st, _ := newTestStore(clock)
	ctx := context.Background()

	require.NoError(t, st.Create(ctx, testSession("s1", clock.Now())))
	clock.Advance(90 * time.Minute)

	s, err := st.Get(ctx, "s1")
	require.NoError(t, err)
	require.NoError(t, st.Put(ctx, s))

	clock.Advance(90 * time.Minute)
	_, err = st.Get(ctx, "s1")
	assert.NoError(t, err)
}

func TestTwoTier_Retire(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	st, _ := newTestStore(clock)
	ctx := context.Background()

	s := testSession("s1", clock.Now())
	require.NoError(t, st.Create(ctx, s))

	done := clock.Now()
	s.Status = domain.StatusCompleted
	s.CompletedAt = &done
	s.FinalScores = &domain.FinalScores{Overall: 7.4}
	require.NoError(t, st.Retire(ctx, s))

	_, err := st.Get(ctx, "s1")
	assert.True(t, errors.Is(err, domain.ErrSessionNotFound))

	completed, err := st.GetCompleted(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, completed.Status)
	assert.Equal(t, 7.4, completed.FinalScores.Overall)

	clock.Advance(DefaultCompletedTTL)
	_, err = st.GetCompleted(ctx, "s1")
	assert.True(t, errors.Is(err, domain.ErrSessionNotFound))
}

func TestTwoTier_GetCompletedMissing(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	st, _ := newTestStore(clock)

	_, err := st.GetCompleted(context.Background(), "nope")
	assert.True(t, errors.Is(err, domain.ErrSessionNotFound))
}

type failingDurable struct {
	*MemoryDurable
	failSave bool
}

var errDurableDown = errors.New("durable down")

func (f *failingDurable) Save(ctx context.Context, ns Namespace, s *domain.Session, ttl time.Duration) error {
	if f.failSave {
		return errDurableDown
	}
	return f.MemoryDurable.Save(ctx, ns, s, ttl)
}

func TestTwoTier_PutFailureLeavesHotUntouched(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	durable := &failingDurable{MemoryDurable: NewMemoryDurable(clock.Now)}
	st := NewTwoTier(durable, WithClock(clock.Now))
	ctx := context.Background()

	require.NoError(t, st.Create(ctx, testSession("s1", clock.Now())))
	s, err := st.Get(ctx, "s1")
	require.NoError(t, err)
	s.AppendTurn(domain.SpeakerUser, "lost", clock.Now())

	durable.failSave = true
	err = st.Put(ctx, s)
	assert.True(t, errors.Is(err, errDurableDown))

	got, err := st.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, got.Transcript, 1)
}

func TestTwoTier_EvictIdleAndSweep(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	st, _ := newTestStore(clock)
	ctx := context.Background()

	require.NoError(t, st.Create(ctx, testSession("old", clock.Now())))
	clock.Advance(DefaultActiveTTL + time.Minute)
	require.NoError(t, st.Create(ctx, testSession("new", clock.Now())))

	var evicted []string
	sweep(st, func(id string) { evicted = append(evicted, id) })

	assert.Equal(t, []string{"old"}, evicted)
	assert.Equal(t, 1, st.HotLen())
}

func TestStartSweeper_StopsWithContext(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	st, _ := newTestStore(clock)

	ctx, cancel := context.WithCancel(context.Background())
	StartSweeper(ctx, st, time.Millisecond, nil)
	cancel()
}

func TestTwoTier_ConcurrentSessions(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	st, _ := newTestStore(clock)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := "s" + string(rune('a'+i%26)) + string(rune('a'+i/26))
			if err := st.Create(ctx, testSession(id, clock.Now())); err != nil {
				t.Errorf("create %s: %v", id, err)
				return
			}
			if _, err := st.Get(ctx, id); err != nil {
				t.Errorf("get %s: %v", id, err)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, st.HotLen())
}
