package notify

import (
	"bytes"
	"fmt"
	"text/template"
	"time"

	"zapis/internal/models"
)

type messageTemplate struct {
	subject string
	body    *template.Template
}

var templates = map[string]messageTemplate{
	models.JobBookingConfirmation: {
		subject: "Booking received",
		body: mustParse("booking_confirmation", `Hello, {{.Name}}!
Your booking for {{.Service}} on {{.When}} is reserved.
Amount due: {{.Amount}} {{.Currency}}.`),
	},
	models.JobBookingCancellation: {
		subject: "Booking cancelled",
		body: mustParse("booking_cancellation", `Hello, {{.Name}}!
Your booking for {{.Service}} on {{.When}} has been cancelled.`),
	},
	models.JobPaymentReceipt: {
		subject: "Payment received",
		body: mustParse("payment_receipt", `Thank you, {{.Name}}!
We received {{.Amount}} {{.Currency}} for {{.Service}} on {{.When}}. Your booking is confirmed.`),
	},
	models.JobPaymentFailed: {
		subject: "Payment failed",
		body: mustParse("payment_failed", `Hello, {{.Name}}.
The payment for {{.Service}} on {{.When}} did not go through{{if .Reason}} ({{.Reason}}){{end}}.
You can try again from your booking page.`),
	},
	models.JobBookingReminder: {
		subject: "Appointment reminder",
		body: mustParse("booking_reminder", `Hello, {{.Name}}!
A reminder that your {{.Service}} appointment is on {{.When}}.`),
	},
	models.JobReviewRequest: {
		subject: "How was your visit?",
		body: mustParse("review_request", `Hello, {{.Name}}!
Thank you for visiting us for {{.Service}}. We would love to hear your feedback.`),
	},
	models.JobWelcome: {
		subject: "Welcome",
		body:    mustParse("welcome", `Welcome, {{.Name}}!`),
	},
	models.JobPasswordReset: {
		subject: "Password reset",
		body:    mustParse("password_reset", `Hello, {{.Name}}. Use this code to reset your password: {{.Data.code}}`),
	},
}

func mustParse(name, text string) *template.Template {
	return template.Must(template.New(name).Option("missingkey=zero").Parse(text))
}

type view struct {
	Name     string
	Service  string
	When     string
	Amount   string
	Currency string
	Reason   string
	Data     map[string]string
}

// Renderer turns a notification payload into a message. Appointment times are
// shown in the calendar's timezone.
type Renderer struct {
	loc *time.Location
}

func NewRenderer(loc *time.Location) *Renderer {
	if loc == nil {
		loc = time.UTC
	}
	return &Renderer{loc: loc}
}

func (r *Renderer) Render(jobType string, recipient *models.Customer, p *models.NotificationPayload) (*models.Message, error) {
	tpl, ok := templates[jobType]
	if !ok {
		return nil, fmt.Errorf("no template for %q", jobType)
	}
	if recipient == nil {
		recipient = &models.Customer{ID: p.CustomerID}
	}

	v := view{
		Name:     recipient.DisplayName(),
		Service:  p.ServiceName,
		Amount:   p.Amount,
		Currency: p.Currency,
		Reason:   p.Reason,
		Data:     p.Data,
	}
	if v.Service == "" {
		v.Service = "your service"
	}
	if !p.AppointmentAt.IsZero() {
		v.When = p.AppointmentAt.In(r.loc).Format("02.01.2006 15:04")
	}

	var buf bytes.Buffer
	if err := tpl.body.Execute(&buf, v); err != nil {
		return nil, fmt.Errorf("render %s: %w", jobType, err)
	}
	return &models.Message{Recipient: recipient, Subject: tpl.subject, Body: buf.String()}, nil
}
