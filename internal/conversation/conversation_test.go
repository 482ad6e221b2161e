package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"inbox-sync-go/internal/model"
	"inbox-sync-go/internal/testutil"
)

var base = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

func addConversation(t *testing.T, db *gorm.DB, f *testutil.Fixture, thread string, at time.Time, status model.ConversationStatus) model.Conversation {
	t.Helper()
	conv := model.Conversation{
		WorkspaceID:   f.Workspace.ID,
		ThreadID:      thread,
		ProspectID:    &f.Prospect.ID,
		CampaignID:    &f.Campaign.ID,
		Status:        status,
		LastMessageAt: at,
	}
	testutil.MustCreate(t, db, &conv)
	return conv
}

func addMessage(t *testing.T, db *gorm.DB, conv model.Conversation, id string, dir model.Direction, read bool, at time.Time) {
	t.Helper()
	msg := model.InboxMessage{
		ConversationID: conv.ID,
		GmailMessageID: id,
		Direction:      dir,
		BodyRaw:        "body " + id,
		ReceivedAt:     at,
		IsRead:         read,
	}
	testutil.MustCreate(t, db, &msg)
}

type world struct {
	db      *gorm.DB
	fixture *testutil.Fixture
	svc     *Service
	recent  model.Conversation
	older   model.Conversation
	archive model.Conversation
}

func newWorld(t *testing.T) *world {
	db := testutil.NewDB(t)
	f := testutil.Seed(t, db)
	w := &world{db: db, fixture: f, svc: NewService(db)}

	w.older = addConversation(t, db, f, "t-older", base, model.ConversationOpen)
	addMessage(t, db, w.older, "o1", model.DirectionOutbound, true, base.Add(-time.Hour))
	addMessage(t, db, w.older, "o2", model.DirectionInbound, true, base)

	w.recent = addConversation(t, db, f, "t-recent", base.Add(2*time.Hour), model.ConversationOpen)
	addMessage(t, db, w.recent, "r2", model.DirectionInbound, false, base.Add(2*time.Hour))
	addMessage(t, db, w.recent, "r1", model.DirectionInbound, false, base.Add(time.Hour))

	w.archive = addConversation(t, db, f, "t-archive", base.Add(-24*time.Hour), model.ConversationArchived)
	addMessage(t, db, w.archive, "a1", model.DirectionInbound, false, base.Add(-24*time.Hour))

	return w
}

func TestGet(t *testing.T) {
	w := newWorld(t)

	conv, err := w.svc.Get(context.Background(), w.recent.ID)
	require.NoError(t, err)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "r1", conv.Messages[0].GmailMessageID)
	assert.Equal(t, "r2", conv.Messages[1].GmailMessageID)
	require.NotNil(t, conv.Prospect)
	assert.Equal(t, "jane@client.test", conv.Prospect.Email)
	require.NotNil(t, conv.Campaign)

	_, err = w.svc.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListForProspect(t *testing.T) {
	w := newWorld(t)

	items, err := w.svc.ListForProspect(context.Background(), w.fixture.Prospect.ID)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, w.recent.ID, items[0].ID)
	assert.Equal(t, w.older.ID, items[1].ID)
	assert.Equal(t, w.archive.ID, items[2].ID)

	require.NotNil(t, items[0].LatestMessage)
	assert.Equal(t, "r2", items[0].LatestMessage.GmailMessageID)
	assert.Equal(t, int64(2), items[0].UnreadCount)
	assert.Equal(t, int64(0), items[1].UnreadCount)
}

func TestListForWorkspaceFilters(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	ws := w.fixture.Workspace.ID

	all, err := w.svc.ListForWorkspace(ctx, ws, Filters{}, Page{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), all.Total)
	assert.Len(t, all.Items, 3)

	open, err := w.svc.ListForWorkspace(ctx, ws, Filters{Status: model.ConversationOpen}, Page{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), open.Total)

	yes, no := true, false
	unread, err := w.svc.ListForWorkspace(ctx, ws, Filters{HasUnread: &yes}, Page{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), unread.Total)

	read, err := w.svc.ListForWorkspace(ctx, ws, Filters{HasUnread: &no}, Page{})
	require.NoError(t, err)
	require.Len(t, read.Items, 1)
	assert.Equal(t, w.older.ID, read.Items[0].ID)

	from := base.Add(-time.Minute)
	to := base.Add(time.Hour)
	window, err := w.svc.ListForWorkspace(ctx, ws, Filters{DateFrom: &from, DateTo: &to}, Page{})
	require.NoError(t, err)
	require.Len(t, window.Items, 1)
	assert.Equal(t, w.older.ID, window.Items[0].ID)

	page, err := w.svc.ListForWorkspace(ctx, ws, Filters{}, Page{Skip: 1, Take: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
	require.Len(t, page.Items, 1)
	assert.Equal(t, w.older.ID, page.Items[0].ID)

	other, err := w.svc.ListForWorkspace(ctx, "other-workspace", Filters{}, Page{})
	require.NoError(t, err)
	assert.Zero(t, other.Total)
	assert.Empty(t, other.Items)
}

func TestMarkReadAndUnreadCount(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	n, err := w.svc.UnreadCount(ctx, w.fixture.Workspace.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	marked, err := w.svc.MarkRead(ctx, w.recent.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), marked)

	marked, err = w.svc.MarkRead(ctx, w.recent.ID)
	require.NoError(t, err)
	assert.Zero(t, marked)

	n, err = w.svc.UnreadCount(ctx, w.fixture.Workspace.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
