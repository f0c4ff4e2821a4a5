package mailer

import (
	"context"
	"fmt"
	"html"
	"time"

	"khyanalt/internal/domain"
	"khyanalt/internal/logging"
	"khyanalt/internal/store"
)

// Renderer produces the report attachment; satisfied by report.Composer.
type Renderer interface {
	Compose(ctx context.Context, answerID int64) ([]byte, error)
}

// Notifier dispatches completion reports and assignment notices. Every
// public method is safe to call from a goroutine after the triggering
// transaction has committed; nothing here returns an error to the request
// path.
type Notifier struct {
	store    *store.Store
	renderer Renderer
	sender   Sender
}

// NewNotifier wires a notifier.
func NewNotifier(st *store.Store, renderer Renderer, sender Sender) *Notifier {
	return &Notifier{store: st, renderer: renderer, sender: sender}
}

// NotifyCompletion renders the report for the collapsed answer row and
// mails it to the organization's contact address. An organization without a
// contact email is abandoned silently.
func (n *Notifier) NotifyCompletion(inspectionID, answerID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	insp, err := n.store.GetInspection(ctx, inspectionID)
	if err != nil {
		logging.MailerError("completion mail: reload inspection %d: %v", inspectionID, err)
		return
	}
	org, err := n.store.GetOrganization(ctx, insp.OrganizationID)
	if err != nil {
		logging.MailerError("completion mail: load organization %d: %v", insp.OrganizationID, err)
		return
	}
	if org.ContactEmail == "" {
		logging.Mailer("completion mail skipped: organization %d has no contact email", org.ID)
		return
	}

	buf, err := n.renderer.Compose(ctx, answerID)
	if err != nil {
		logging.MailerError("completion mail: compose report for answer %d: %v", answerID, err)
		return
	}

	completedAt := time.Now()
	if insp.CompletedAt != nil {
		completedAt = *insp.CompletedAt
	}
	title := insp.Title
	if title == "" {
		title = fmt.Sprintf("Үзлэг #%d", insp.ID)
	}

	msg := &Message{
		To:      org.ContactEmail,
		Subject: fmt.Sprintf("Үзлэг дууссан: %s", title),
		TextBody: fmt.Sprintf(
			"Үзлэг амжилттай дууслаа.\n\nҮзлэгийн дугаар: %d\nДууссан огноо: %s\n\nТайланг хавсралтаас үзнэ үү.",
			insp.ID, completedAt.Format("2006-01-02 15:04")),
		HTMLBody: fmt.Sprintf(
			"<p>Үзлэг амжилттай дууслаа.</p><ul><li>Үзлэгийн дугаар: %d</li><li>Дууссан огноо: %s</li></ul><p>Тайланг хавсралтаас үзнэ үү.</p>",
			insp.ID, completedAt.Format("2006-01-02 15:04")),
		AttachmentName: fmt.Sprintf("inspection_%d_report.docx", insp.ID),
		Attachment:     buf,
	}
	if err := n.sender.Send(msg); err != nil {
		logging.MailerError("completion mail for inspection %d failed: %v", insp.ID, err)
		return
	}
	logging.Mailer("completion mail for inspection %d sent to %s", insp.ID, org.ContactEmail)
}

// NotifyAssignment mails the assignee a structured notice with schedule,
// organization, site, device, and instructions.
func (n *Notifier) NotifyAssignment(inspectionID, userID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	insp, err := n.store.GetInspection(ctx, inspectionID)
	if err != nil {
		logging.MailerError("assignment mail: reload inspection %d: %v", inspectionID, err)
		return
	}
	user, err := n.store.GetUser(ctx, userID)
	if err != nil {
		logging.MailerError("assignment mail: load user %d: %v", userID, err)
		return
	}
	if user.Email == "" {
		logging.Mailer("assignment mail skipped: user %d has no email", user.ID)
		return
	}

	org, _ := n.store.GetOrganization(ctx, insp.OrganizationID)
	device, _ := n.store.GetDevice(ctx, insp.DeviceID)

	orgName, siteName, deviceName := "-", "-", "-"
	if org != nil {
		orgName = org.Name
	}
	if insp.SiteID != nil {
		if site, err := n.store.GetSite(ctx, *insp.SiteID); err == nil {
			siteName = site.Name
		}
	}
	if device != nil {
		deviceName = device.Name
		if device.SerialNo != "" {
			deviceName = fmt.Sprintf("%s (сериал: %s)", device.Name, device.SerialNo)
		}
	}
	scheduled := "-"
	if insp.ScheduledAt != nil {
		scheduled = insp.ScheduledAt.Format("2006-01-02")
	}
	scheduleKind := "Ээлжит"
	if insp.ScheduleType == domain.ScheduleDaily {
		scheduleKind = "Өдөр тутмын"
	}

	text := fmt.Sprintf(
		"Сайн байна уу, %s.\n\nТанд шинэ үзлэг хуваарилагдлаа.\n\nТөрөл: %s үзлэг\nТовлосон огноо: %s\nБайгууллага: %s\nБайршил: %s\nТөхөөрөмж: %s\n\nГар утасны аппликейшнээр нэвтэрч үзлэгээ эхлүүлнэ үү.",
		user.FullName, scheduleKind, scheduled, orgName, siteName, deviceName)
	htmlBody := fmt.Sprintf(
		"<p>Сайн байна уу, %s.</p><p>Танд шинэ үзлэг хуваарилагдлаа.</p><ul><li>Төрөл: %s үзлэг</li><li>Товлосон огноо: %s</li><li>Байгууллага: %s</li><li>Байршил: %s</li><li>Төхөөрөмж: %s</li></ul><p>Гар утасны аппликейшнээр нэвтэрч үзлэгээ эхлүүлнэ үү.</p>",
		html.EscapeString(user.FullName), scheduleKind, scheduled,
		html.EscapeString(orgName), html.EscapeString(siteName), html.EscapeString(deviceName))

	msg := &Message{
		To:       user.Email,
		Subject:  fmt.Sprintf("Шинэ үзлэг хуваарилагдлаа: #%d", insp.ID),
		TextBody: text,
		HTMLBody: htmlBody,
	}
	if err := n.sender.Send(msg); err != nil {
		logging.MailerError("assignment mail for inspection %d failed: %v", insp.ID, err)
		return
	}
	logging.Mailer("assignment mail for inspection %d sent to %s", insp.ID, user.Email)
}
