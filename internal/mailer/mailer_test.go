package mailer

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"khyanalt/internal/config"
	"khyanalt/internal/domain"
	"khyanalt/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeSender records sent messages.
type fakeSender struct {
	mu   sync.Mutex
	sent []*Message
	fail bool
}

func (f *fakeSender) Send(msg *Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return assert.AnError
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSender) messages() []*Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Message{}, f.sent...)
}

// fakeRenderer returns a fixed buffer.
type fakeRenderer struct{ fail bool }

func (f *fakeRenderer) Compose(ctx context.Context, answerID int64) ([]byte, error) {
	if f.fail {
		return nil, assert.AnError
	}
	return []byte("PK-fake-docx"), nil
}

func notifierFixture(t *testing.T, contactEmail string) (*Notifier, *fakeSender, int64, int64) {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	org, err := st.CreateOrganization(ctx, &domain.Organization{
		Name: "Эрдэнэт ХХК", Code: "ERD", ContactEmail: contactEmail,
	})
	require.NoError(t, err)
	user, err := st.CreateUser(ctx, &domain.User{
		OrganizationID: org.ID, FullName: "A. Batbold",
		Email: "batbold@erdenet.mn", Role: domain.RoleInspector,
	})
	require.NoError(t, err)
	device, err := st.CreateDevice(ctx, &domain.Device{
		OrganizationID: org.ID, SerialNo: "SC-1", Name: "Авто жин",
	})
	require.NoError(t, err)
	insp, err := st.CreateInspection(ctx, &domain.CreateInspectionParams{
		OrganizationID: org.ID, DeviceID: device.ID, Title: "Сарын үзлэг",
		Type: domain.TypeInspection, ScheduleType: domain.ScheduleDaily,
		AssignedTo: &user.ID, CreatedBy: user.ID,
	})
	require.NoError(t, err)
	answer, err := st.InsertAnswer(ctx, insp.ID, []byte(`{"metadata":{}}`), user.ID, time.Now())
	require.NoError(t, err)

	sender := &fakeSender{}
	return NewNotifier(st, &fakeRenderer{}, sender), sender, insp.ID, answer.ID
}

func TestNotifyCompletionSendsAttachment(t *testing.T) {
	notifier, sender, inspID, answerID := notifierFixture(t, "contact@erdenet.mn")

	notifier.NotifyCompletion(inspID, answerID)

	msgs := sender.messages()
	require.Len(t, msgs, 1)
	msg := msgs[0]
	assert.Equal(t, "contact@erdenet.mn", msg.To)
	assert.True(t, strings.HasPrefix(msg.Subject, "Үзлэг дууссан: "))
	assert.Contains(t, msg.Subject, "Сарын үзлэг")
	assert.Equal(t, []byte("PK-fake-docx"), msg.Attachment)
	assert.Contains(t, msg.TextBody, "Үзлэгийн дугаар")
	assert.NotEmpty(t, msg.HTMLBody)
}

func TestNotifyCompletionSkipsWithoutContactEmail(t *testing.T) {
	notifier, sender, inspID, answerID := notifierFixture(t, "")
	notifier.NotifyCompletion(inspID, answerID)
	assert.Empty(t, sender.messages(), "no contact email means silent abandon")
}

func TestNotifyCompletionSwallowsRenderFailure(t *testing.T) {
	notifier, sender, inspID, answerID := notifierFixture(t, "contact@erdenet.mn")
	notifier.renderer = &fakeRenderer{fail: true}

	assert.NotPanics(t, func() { notifier.NotifyCompletion(inspID, answerID) })
	assert.Empty(t, sender.messages())
}

func TestNotifyCompletionSwallowsSendFailure(t *testing.T) {
	notifier, sender, inspID, answerID := notifierFixture(t, "contact@erdenet.mn")
	sender.fail = true
	assert.NotPanics(t, func() { notifier.NotifyCompletion(inspID, answerID) })
}

func TestNotifyAssignment(t *testing.T) {
	notifier, sender, inspID, _ := notifierFixture(t, "contact@erdenet.mn")

	// The fixture's user is id 1 in a fresh database.
	notifier.NotifyAssignment(inspID, 1)

	msgs := sender.messages()
	require.Len(t, msgs, 1)
	msg := msgs[0]
	assert.Equal(t, "batbold@erdenet.mn", msg.To)
	assert.Contains(t, msg.Subject, "Шинэ үзлэг хуваарилагдлаа")
	assert.Contains(t, msg.TextBody, "A. Batbold")
	assert.Contains(t, msg.TextBody, "Эрдэнэт ХХК")
	assert.Contains(t, msg.TextBody, "Өдөр тутмын")
	assert.Contains(t, msg.TextBody, "SC-1")
}

func TestBuildMIME(t *testing.T) {
	msg := &Message{
		To:             "to@example.mn",
		Subject:        "Үзлэг дууссан: Тест",
		TextBody:       "plain body",
		HTMLBody:       "<p>html body</p>",
		AttachmentName: "inspection_7_report.docx",
		Attachment:     []byte{0x50, 0x4b, 0x03, 0x04},
	}
	raw := string(buildMIME("from@example.mn", msg))

	assert.Contains(t, raw, "From: from@example.mn\r\n")
	assert.Contains(t, raw, "To: to@example.mn\r\n")
	assert.Contains(t, raw, "Subject: =?utf-8?q?")
	assert.Contains(t, raw, "multipart/mixed")
	assert.Contains(t, raw, "multipart/alternative")
	assert.Contains(t, raw, docxMIME)
	assert.Contains(t, raw, `filename="inspection_7_report.docx"`)
	assert.Contains(t, raw, "Content-Transfer-Encoding: base64")
}

func TestSMTPSenderRequiresConfig(t *testing.T) {
	sender := NewSMTPSender(config.SMTPConfig{})
	err := sender.Send(&Message{To: "x@y.mn", Subject: "s"})
	assert.Error(t, err)
}
