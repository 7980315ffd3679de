// Package storagetest 提供所有 storage.Store 实现共用的一致性测试。
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replyhub/backend/internal/domain"
	"replyhub/backend/internal/storage"
)

// Options 控制一致性测试的可选部分
type Options struct {
	// Concurrent 是否运行并发 upsert 测试
	Concurrent bool
}

// Run 对 newStore 返回的存储执行全部一致性测试
func Run(t *testing.T, newStore func(t *testing.T) storage.Store, opts Options) {
	t.Run("工作区按 externalId 唯一", func(t *testing.T) {
		testWorkspaceUpsert(t, newStore(t))
	})
	t.Run("线索合并不回退已知字段", func(t *testing.T) {
		testLeadMerge(t, newStore(t))
	})
	t.Run("会话 lastMessageAt 只前进且 campaignName 只回填", func(t *testing.T) {
		testConversationUpsert(t, newStore(t))
	})
	t.Run("邮件按外部 ID 幂等", func(t *testing.T) {
		testMessageIdempotence(t, newStore(t))
	})
	t.Run("平台连接", func(t *testing.T) {
		testConnections(t, newStore(t))
	})
	if opts.Concurrent {
		t.Run("并发创建同一会话只产生一行", func(t *testing.T) {
			testConcurrentConversation(t, newStore(t))
		})
		t.Run("并发合并同一线索不丢失字段", func(t *testing.T) {
			testConcurrentLead(t, newStore(t))
		})
	}
}

func testWorkspaceUpsert(t *testing.T, s storage.Store) {
	ctx := context.Background()

	first, err := s.UpsertWorkspace(ctx, "w1", "Workspace w1")
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)

	second, err := s.UpsertWorkspace(ctx, "w1", "another name")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Workspace w1", second.Name)

	got, err := s.GetWorkspaceByExternalID(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)

	_, err = s.GetWorkspaceByExternalID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testLeadMerge(t *testing.T, s storage.Store) {
	ctx := context.Background()
	ws, err := s.UpsertWorkspace(ctx, "w1", "w1")
	require.NoError(t, err)

	lead, err := s.UpsertLead(ctx, ws.ID, domain.PlatformPlusVibe, "a@b.com", domain.LeadProfile{FirstName: "Jane"})
	require.NoError(t, err)
	assert.Equal(t, "Jane", lead.FirstName)

	again, err := s.UpsertLead(ctx, ws.ID, domain.PlatformPlusVibe, "a@b.com", domain.LeadProfile{CompanyName: "Acme"})
	require.NoError(t, err)
	assert.Equal(t, lead.ID, again.ID)
	assert.Equal(t, "Jane", again.FirstName)
	assert.Equal(t, "Acme", again.CompanyName)

	stored, err := s.GetLead(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, "Jane", stored.FirstName)
	assert.Equal(t, "Acme", stored.CompanyName)

	other, err := s.UpsertLead(ctx, ws.ID, domain.PlatformInstantly, "a@b.com", domain.LeadProfile{})
	require.NoError(t, err)
	assert.NotEqual(t, lead.ID, other.ID, "同一邮箱在不同平台是两个线索")
}

func testConversationUpsert(t *testing.T, s storage.Store) {
	ctx := context.Background()
	t0 := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	conv, err := s.UpsertConversation(ctx, domain.ConversationUpsert{
		LeadID:           "lead-1",
		Platform:         domain.PlatformPlusVibe,
		ExternalThreadID: "plusvibe-t1",
		CampaignID:       "c1",
		MessageAt:        t0,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ConversationOpen, conv.Status)
	assert.True(t, conv.LastMessageAt.Equal(t0))
	assert.Empty(t, conv.CampaignName)

	older, err := s.UpsertConversation(ctx, domain.ConversationUpsert{
		LeadID:           "lead-1",
		Platform:         domain.PlatformPlusVibe,
		ExternalThreadID: "plusvibe-t1",
		CampaignName:     "Q1 outreach",
		MessageAt:        t0.Add(-time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, conv.ID, older.ID)
	assert.True(t, older.LastMessageAt.Equal(t0), "乱序到达的旧消息不能让 lastMessageAt 回退")
	assert.Equal(t, "Q1 outreach", older.CampaignName)

	newer, err := s.UpsertConversation(ctx, domain.ConversationUpsert{
		LeadID:           "lead-1",
		Platform:         domain.PlatformPlusVibe,
		ExternalThreadID: "plusvibe-t1",
		CampaignName:     "renamed",
		MessageAt:        t0.Add(time.Hour),
	})
	require.NoError(t, err)
	assert.True(t, newer.LastMessageAt.Equal(t0.Add(time.Hour)))
	assert.Equal(t, "Q1 outreach", newer.CampaignName, "campaignName 只在为空时回填")

	got, err := s.GetConversationByThread(ctx, domain.PlatformPlusVibe, "plusvibe-t1")
	require.NoError(t, err)
	assert.Equal(t, conv.ID, got.ID)

	count, err := s.CountConversations(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func testMessageIdempotence(t *testing.T, s storage.Store) {
	ctx := context.Background()
	sent := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	msg := &domain.Message{
		ConversationID:    "conv-1",
		Platform:          domain.PlatformInstantly,
		ExternalMessageID: "e1",
		Direction:         domain.DirectionIn,
		Subject:           "Re:",
		BodyText:          "hello",
		SentAt:            sent,
		Metadata:          map[string]string{"eaccount": "sales@acme.io"},
	}
	stored, created, err := s.CreateMessageIfAbsent(ctx, msg)
	require.NoError(t, err)
	assert.True(t, created)
	require.NotEmpty(t, stored.ID)

	dup := *msg
	dup.ID = ""
	dup.BodyText = "changed"
	again, created, err := s.CreateMessageIfAbsent(ctx, &dup)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, stored.ID, again.ID)
	assert.Equal(t, "hello", again.BodyText, "已存在的邮件不可被修改")

	got, err := s.GetMessageByExternalID(ctx, domain.PlatformInstantly, "e1")
	require.NoError(t, err)
	assert.Equal(t, "sales@acme.io", got.Metadata["eaccount"])

	list, err := s.ListMessages(ctx, "conv-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	count, err := s.CountMessages(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func testConnections(t *testing.T, s storage.Store) {
	ctx := context.Background()

	conn := &domain.PlatformConnection{
		UserID:          "user-1",
		Platform:        domain.PlatformPlusVibe,
		WorkspaceID:     "pv-ws",
		APIKeyEncrypted: "sealed",
	}
	require.NoError(t, s.SaveConnection(ctx, conn))
	require.NotEmpty(t, conn.ID)
	require.NoError(t, s.SaveConnection(ctx, &domain.PlatformConnection{
		UserID:          "user-2",
		Platform:        domain.PlatformInstantly,
		APIKeyEncrypted: "sealed-2",
	}))

	got, err := s.GetConnection(ctx, conn.ID)
	require.NoError(t, err)
	assert.Equal(t, "pv-ws", got.WorkspaceID)

	list, err := s.ListConnectionsByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	owners, err := s.ListConnectionOwners(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"user-1", "user-2"}, owners)

	_, err = s.GetConnection(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testConcurrentConversation(t *testing.T, s storage.Store) {
	ctx := context.Background()
	const workers = 16
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	ids := make([]string, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conv, err := s.UpsertConversation(ctx, domain.ConversationUpsert{
				LeadID:           "lead-1",
				Platform:         domain.PlatformPlusVibe,
				ExternalThreadID: "plusvibe-race",
				MessageAt:        base.Add(time.Duration(i) * time.Second),
			})
			errs[i] = err
			if conv != nil {
				ids[i] = conv.ID
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i], fmt.Sprintf("worker %d", i))
		assert.Equal(t, ids[0], ids[i])
	}
	count, err := s.CountConversations(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	conv, err := s.GetConversationByThread(ctx, domain.PlatformPlusVibe, "plusvibe-race")
	require.NoError(t, err)
	assert.True(t, conv.LastMessageAt.Equal(base.Add((workers-1)*time.Second)), "lastMessageAt 取所有消息时间的最大值")
}

func testConcurrentLead(t *testing.T, s storage.Store) {
	ctx := context.Background()
	ws, err := s.UpsertWorkspace(ctx, "w1", "w1")
	require.NoError(t, err)

	profiles := []domain.LeadProfile{
		{FirstName: "Jane"},
		{LastName: "Doe"},
		{CompanyName: "Acme"},
		{ExternalLeadID: "ext-1"},
	}

	var wg sync.WaitGroup
	ids := make([]string, len(profiles))
	errs := make([]error, len(profiles))
	for i, p := range profiles {
		wg.Add(1)
		go func(i int, p domain.LeadProfile) {
			defer wg.Done()
			lead, err := s.UpsertLead(ctx, ws.ID, domain.PlatformInstantly, "race@b.com", p)
			errs[i] = err
			if lead != nil {
				ids[i] = lead.ID
			}
		}(i, p)
	}
	wg.Wait()

	for i := range profiles {
		require.NoError(t, errs[i], fmt.Sprintf("worker %d", i))
		assert.Equal(t, ids[0], ids[i])
	}
	lead, err := s.GetLead(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, "Jane", lead.FirstName)
	assert.Equal(t, "Doe", lead.LastName)
	assert.Equal(t, "Acme", lead.CompanyName)
	assert.Equal(t, "ext-1", lead.ExternalLeadID)
}
