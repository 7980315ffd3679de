package reconcile

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replyhub/backend/internal/domain"
	"replyhub/backend/internal/monitoring"
	"replyhub/backend/internal/storage/memory"
)

type recordingNotifier struct {
	mu    sync.Mutex
	items []Notification
}

func (r *recordingNotifier) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, n)
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

func instantlyEvent(leadEmail, emailID string) *domain.CanonicalEvent {
	return &domain.CanonicalEvent{
		Platform:            domain.PlatformInstantly,
		WorkspaceExternalID: "w1",
		LeadEmail:           leadEmail,
		CampaignID:          "c1",
		ThreadSeed:          emailID,
		MessageExternalID:   emailID,
		Direction:           domain.DirectionIn,
		Subject:             "Re:",
		BodyText:            "hello",
		FromEmail:           leadEmail,
		SentAt:              time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func plusVibeEvent(leadEmail, threadID, emailID string) *domain.CanonicalEvent {
	return &domain.CanonicalEvent{
		Platform:            domain.PlatformPlusVibe,
		WorkspaceExternalID: "pv-ws",
		LeadEmail:           leadEmail,
		ThreadSeed:          threadID,
		MessageExternalID:   emailID,
		Direction:           domain.DirectionIn,
		SentAt:              time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestReconcile_Idempotent(t *testing.T) {
	store := memory.NewStore()
	notifier := &recordingNotifier{}
	engine := NewEngine(store, nil, WithNotifier(notifier), WithMetrics(monitoring.NewMetrics()))
	ctx := context.Background()

	first, err := engine.Reconcile(ctx, instantlyEvent("a@b.com", "e1"))
	require.NoError(t, err)
	assert.True(t, first.Created)

	for i := 0; i < 3; i++ {
		again, err := engine.Reconcile(ctx, instantlyEvent("a@b.com", "e1"))
		require.NoError(t, err)
		assert.False(t, again.Created)
		assert.Equal(t, first.ConversationID, again.ConversationID)
		assert.Equal(t, first.MessageID, again.MessageID)
	}

	messages, err := store.CountMessages(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), messages)
	assert.Equal(t, 1, notifier.count(), "只对新建的邮件发送通知")
}

func TestReconcile_ConcurrentFirstMessages(t *testing.T) {
	store := memory.NewStore()
	engine := NewEngine(store, nil)
	ctx := context.Background()

	// 同一 PlusVibe 线程的不同邮件并发到达
	var wg sync.WaitGroup
	results := make([]*Result, 10)
	errs := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = engine.Reconcile(ctx, plusVibeEvent("a@b.com", "t1", fmt.Sprintf("m%d", i)))
		}(i)
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].ConversationID, results[i].ConversationID)
	}

	convs, err := store.CountConversations(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), convs)

	messages, err := store.CountMessages(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), messages)
}

func TestReconcile_LeadMergeNeverRegresses(t *testing.T) {
	store := memory.NewStore()
	engine := NewEngine(store, nil)
	ctx := context.Background()

	withName := plusVibeEvent("jane@example.com", "t1", "m1")
	withName.Lead = domain.LeadProfile{FirstName: "Jane", CompanyName: "Acme"}
	_, err := engine.Reconcile(ctx, withName)
	require.NoError(t, err)

	withoutName := plusVibeEvent("jane@example.com", "t1", "m2")
	withoutName.Lead = domain.LeadProfile{LastName: "Doe"}
	_, err = engine.Reconcile(ctx, withoutName)
	require.NoError(t, err)

	conv, err := store.GetConversationByThread(ctx, domain.PlatformPlusVibe, "plusvibe-t1")
	require.NoError(t, err)
	lead, err := store.GetLead(ctx, conv.LeadID)
	require.NoError(t, err)

	assert.Equal(t, "Jane", lead.FirstName)
	assert.Equal(t, "Doe", lead.LastName)
	assert.Equal(t, "Acme", lead.CompanyName)
}

func TestReconcile_ThreadDerivationAsymmetry(t *testing.T) {
	ctx := context.Background()

	t.Run("Instantly 相同种子不同线索产生两个会话", func(t *testing.T) {
		store := memory.NewStore()
		engine := NewEngine(store, nil)

		a := instantlyEvent("a@b.com", "e1")
		b := instantlyEvent("c@d.com", "e2")
		b.ThreadSeed = "e1"

		ra, err := engine.Reconcile(ctx, a)
		require.NoError(t, err)
		rb, err := engine.Reconcile(ctx, b)
		require.NoError(t, err)

		assert.NotEqual(t, ra.ConversationID, rb.ConversationID)
		convs, _ := store.CountConversations(ctx)
		assert.Equal(t, int64(2), convs)
	})

	t.Run("PlusVibe 相同种子总是同一会话", func(t *testing.T) {
		store := memory.NewStore()
		engine := NewEngine(store, nil)

		ra, err := engine.Reconcile(ctx, plusVibeEvent("a@b.com", "t1", "m1"))
		require.NoError(t, err)
		rb, err := engine.Reconcile(ctx, plusVibeEvent("c@d.com", "t1", "m2"))
		require.NoError(t, err)

		assert.Equal(t, ra.ConversationID, rb.ConversationID)
		convs, _ := store.CountConversations(ctx)
		assert.Equal(t, int64(1), convs)
	})
}

func TestReconcile_ConversationTimestampAndCampaign(t *testing.T) {
	store := memory.NewStore()
	engine := NewEngine(store, nil)
	ctx := context.Background()

	later := plusVibeEvent("a@b.com", "t1", "m2")
	later.SentAt = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	_, err := engine.Reconcile(ctx, later)
	require.NoError(t, err)

	// 乱序到达的旧邮件不回退 lastMessageAt，但回填活动名
	earlier := plusVibeEvent("a@b.com", "t1", "m1")
	earlier.CampaignName = "Spring"
	_, err = engine.Reconcile(ctx, earlier)
	require.NoError(t, err)

	conv, err := store.GetConversationByThread(ctx, domain.PlatformPlusVibe, "plusvibe-t1")
	require.NoError(t, err)
	assert.Equal(t, later.SentAt, conv.LastMessageAt.UTC())
	assert.Equal(t, "Spring", conv.CampaignName)
	assert.Equal(t, domain.ConversationOpen, conv.Status)
}

func TestReconcile_WorkspaceName(t *testing.T) {
	store := memory.NewStore()
	engine := NewEngine(store, nil)
	ctx := context.Background()

	ev := instantlyEvent("a@b.com", "e1")
	ev.WorkspaceExternalID = "0123456789abcdef"
	_, err := engine.Reconcile(ctx, ev)
	require.NoError(t, err)

	ws, err := store.GetWorkspaceByExternalID(ctx, "0123456789abcdef")
	require.NoError(t, err)
	assert.Equal(t, "Workspace 01234567", ws.Name)

	named := plusVibeEvent("a@b.com", "t1", "m1")
	named.WorkspaceName = "Acme"
	_, err = engine.Reconcile(ctx, named)
	require.NoError(t, err)

	ws, err = store.GetWorkspaceByExternalID(ctx, "pv-ws")
	require.NoError(t, err)
	assert.Equal(t, "Acme", ws.Name)
}

func TestReconcile_MalformedEvent(t *testing.T) {
	store := memory.NewStore()
	engine := NewEngine(store, nil)

	ev := instantlyEvent("", "e1")
	_, err := engine.Reconcile(context.Background(), ev)
	assert.ErrorIs(t, err, domain.ErrMalformedEvent)

	count, _ := store.CountConversations(context.Background())
	assert.Zero(t, count)
}
