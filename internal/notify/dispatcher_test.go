package notify

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/hivedesk/relay/pkg/models"
)

// trackingStore records writes and can be told to fail selectively.
type trackingStore struct {
	mu          sync.Mutex
	created     []*models.Notification
	batchCalls  int
	singleCalls int
	failBatch   bool
	failUser    string // single writes for this recipient fail
	users       map[string]*models.User
	nextID      int
}

func newTrackingStore(users ...*models.User) *trackingStore {
	s := &trackingStore{users: map[string]*models.User{}}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *trackingStore) CreateNotification(ctx context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.singleCalls++
	if s.failUser != "" && n.UserID == s.failUser {
		return errors.New("write failed")
	}
	s.nextID++
	n.ID = "n" + string(rune('0'+s.nextID))
	s.created = append(s.created, n)
	return nil
}

func (s *trackingStore) CreateNotifications(ctx context.Context, ns []*models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batchCalls++
	if s.failBatch {
		return errors.New("batch write failed")
	}
	for _, n := range ns {
		s.nextID++
		n.ID = "n" + string(rune('0'+s.nextID))
		s.created = append(s.created, n)
	}
	return nil
}

func (s *trackingStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, errors.New("no such user")
	}
	return u, nil
}

type recordingLive struct {
	mu      sync.Mutex
	sent    []string // recipient user ids
	err     error
	offline bool
}

func (l *recordingLive) SendToUser(userID, event string, payload any) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return false, l.err
	}
	if l.offline {
		return false, nil
	}
	l.sent = append(l.sent, userID)
	return true, nil
}

type recordingPush struct {
	mu    sync.Mutex
	sent  []string
	err   error
	panic bool
}

func (p *recordingPush) Send(ctx context.Context, userID string, n *models.Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.panic {
		panic("push provider blew up")
	}
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, userID)
	return nil
}

type recordingEmail struct {
	mu        sync.Mutex
	sent      []string // to addresses
	err       error
	available bool
}

func (e *recordingEmail) Available() bool { return e.available }

func (e *recordingEmail) Send(ctx context.Context, to, name, subject, htmlBody string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.sent = append(e.sent, to)
	return nil
}

func testUsers() []*models.User {
	return []*models.User{
		{ID: "a", Email: "a@example.com", DisplayName: "A"},
		{ID: "b", Email: "b@example.com", DisplayName: "B"},
		{ID: "c", Email: "c@example.com", DisplayName: "C"},
	}
}

func TestDispatch_SkipsSenderAndDeduplicates(t *testing.T) {
	st := newTrackingStore(testUsers()...)
	d := NewDispatcher(st, nil)

	created, err := d.Dispatch(context.Background(), &Trigger{
		Kind:       KindChatMessage,
		Title:      "A",
		Recipients: []string{"a", "b", "b", "c", ""},
		SenderID:   "a",
	})
	if err != nil {
		t.Fatalf("Dispatch = %v", err)
	}
	if len(created) != 2 {
		t.Fatalf("created %d rows, want 2 (sender and duplicates dropped)", len(created))
	}
	if created[0].UserID != "b" || created[1].UserID != "c" {
		t.Fatalf("recipients = %s, %s; want b, c", created[0].UserID, created[1].UserID)
	}
	for _, n := range created {
		if n.ID == "" {
			t.Fatal("created notification has no id")
		}
	}
}

func TestDispatch_SystemAlertReachesSender(t *testing.T) {
	st := newTrackingStore(testUsers()...)
	d := NewDispatcher(st, nil)

	created, err := d.Dispatch(context.Background(), &Trigger{
		Kind:       KindSystemAlert,
		Title:      "maintenance window",
		Recipients: []string{"a", "b"},
		SenderID:   "a",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(created) != 2 {
		t.Fatalf("system_alert created %d rows, want 2 including the sender", len(created))
	}
}

func TestDispatch_UnknownKindRejected(t *testing.T) {
	d := NewDispatcher(newTrackingStore(), nil)
	if _, err := d.Dispatch(context.Background(), &Trigger{Kind: "carrier_pigeon", Recipients: []string{"a"}}); err == nil {
		t.Fatal("unknown kind must be rejected")
	}
	if _, err := d.Dispatch(context.Background(), nil); err == nil {
		t.Fatal("nil trigger must be rejected")
	}
}

func TestDispatch_NoRecipientsIsSilent(t *testing.T) {
	st := newTrackingStore(testUsers()...)
	d := NewDispatcher(st, nil)

	created, err := d.Dispatch(context.Background(), &Trigger{
		Kind:       KindChatMessage,
		Recipients: []string{"a"},
		SenderID:   "a",
	})
	if err != nil || created != nil {
		t.Fatalf("sender-only dispatch = %v, %v; want nil, nil", created, err)
	}
	if st.singleCalls != 0 || st.batchCalls != 0 {
		t.Fatal("no rows should be written when every recipient is excluded")
	}
}

func TestDispatch_SingleRecipientUsesIndividualWrite(t *testing.T) {
	st := newTrackingStore(testUsers()...)
	d := NewDispatcher(st, nil)

	if _, err := d.Dispatch(context.Background(), &Trigger{
		Kind:       KindDriveShared,
		Recipients: []string{"b"},
		SenderID:   "a",
	}); err != nil {
		t.Fatal(err)
	}
	if st.singleCalls != 1 || st.batchCalls != 0 {
		t.Fatalf("writes = %d single, %d batch; want 1, 0", st.singleCalls, st.batchCalls)
	}
}

func TestDispatch_BatchFallbackSkipsBadRow(t *testing.T) {
	st := newTrackingStore(testUsers()...)
	st.failBatch = true
	st.failUser = "b"
	d := NewDispatcher(st, nil)

	created, err := d.Dispatch(context.Background(), &Trigger{
		Kind:       KindBusinessInvitation,
		Recipients: []string{"a", "b", "c"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if st.batchCalls != 1 {
		t.Fatalf("batch attempted %d times, want 1", st.batchCalls)
	}
	if len(created) != 2 {
		t.Fatalf("fallback created %d rows, want 2 surviving the bad row", len(created))
	}
	for _, n := range created {
		if n.UserID == "b" {
			t.Fatal("failed row must not be reported as created")
		}
	}
}

func TestDispatch_ChannelFailuresAreIndependent(t *testing.T) {
	st := newTrackingStore(testUsers()...)
	live := &recordingLive{}
	push := &recordingPush{err: errors.New("provider 500")}
	email := &recordingEmail{available: true}
	d := NewDispatcher(st, nil,
		WithLiveSender(live),
		WithPushSender(push),
		WithEmailSender(email),
	)

	if _, err := d.Dispatch(context.Background(), &Trigger{
		Kind:       KindMemberRequest,
		Title:      "join request",
		Recipients: []string{"b"},
	}); err != nil {
		t.Fatalf("Dispatch = %v; channel failures must never surface", err)
	}
	if len(live.sent) != 1 {
		t.Errorf("live deliveries = %v, want [b]", live.sent)
	}
	if len(email.sent) != 1 || email.sent[0] != "b@example.com" {
		t.Errorf("email deliveries = %v, want [b@example.com]", email.sent)
	}
}

func TestDispatch_PanicInChannelIsContained(t *testing.T) {
	st := newTrackingStore(testUsers()...)
	email := &recordingEmail{available: true}
	d := NewDispatcher(st, nil,
		WithPushSender(&recordingPush{panic: true}),
		WithEmailSender(email),
	)

	created, err := d.Dispatch(context.Background(), &Trigger{
		Kind:       KindDrivePermission,
		Recipients: []string{"c"},
	})
	if err != nil {
		t.Fatalf("Dispatch = %v; a panicking channel must be contained", err)
	}
	if len(created) != 1 {
		t.Fatalf("created %d rows, want 1", len(created))
	}
	if len(email.sent) != 1 {
		t.Fatalf("email deliveries = %v; other channels must still run", email.sent)
	}
}

func TestDeliverLive_OfflineRecipientIsSkipped(t *testing.T) {
	st := newTrackingStore(testUsers()...)
	live := &recordingLive{offline: true}
	d := NewDispatcher(st, nil, WithLiveSender(live))

	err := d.deliverLive(context.Background(), &models.Notification{UserID: "b", Kind: "chat_message"})
	if !errors.Is(err, errChannelSkipped) {
		t.Fatalf("offline recipient = %v, want the skipped marker", err)
	}
	if len(live.sent) != 0 {
		t.Fatalf("live deliveries = %v, want none", live.sent)
	}

	live.offline = false
	if err := d.deliverLive(context.Background(), &models.Notification{UserID: "b", Kind: "chat_message"}); err != nil {
		t.Fatalf("connected recipient = %v, want nil", err)
	}
}

func TestDispatch_EmailSkippedWithoutAddress(t *testing.T) {
	st := newTrackingStore(&models.User{ID: "x", DisplayName: "X"})
	email := &recordingEmail{available: true}
	d := NewDispatcher(st, nil, WithEmailSender(email))

	if _, err := d.Dispatch(context.Background(), &Trigger{
		Kind:       KindCalendarReminder,
		Title:      "standup",
		Recipients: []string{"x"},
	}); err != nil {
		t.Fatal(err)
	}
	if len(email.sent) != 0 {
		t.Fatalf("email sent to a user with no address: %v", email.sent)
	}
}

func TestKind_Contract(t *testing.T) {
	for _, k := range []Kind{
		KindChatMessage, KindChatMention, KindChatReaction,
		KindDriveShared, KindDrivePermission,
		KindBusinessInvitation, KindMemberRequest,
		KindSystemAlert, KindCalendarReminder,
	} {
		if !k.Valid() {
			t.Errorf("%s should be valid", k)
		}
	}
	if Kind("sms").Valid() {
		t.Error("unknown kind reported valid")
	}
	if KindSystemAlert.ExcludesSender() || KindCalendarReminder.ExcludesSender() {
		t.Error("broadcast kinds must reach the sender")
	}
	if !KindChatMessage.ExcludesSender() {
		t.Error("chat_message must not notify its own sender")
	}
}
