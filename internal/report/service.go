package report

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/signintech/gopdf"
	gcal "google.golang.org/api/calendar/v3"

	"github.com/Aniketchurihar/CardioGenie/internal/consultation"
	"github.com/Aniketchurihar/CardioGenie/internal/platform/calendar"
	"github.com/Aniketchurihar/CardioGenie/internal/platform/telegram"
)

type TelegramClient interface {
	SendMessage(ctx context.Context, chatID int64, text, parseMode string) error
	SendDocument(ctx context.Context, chatID int64, fileData []byte, fileName, caption string) error
}

type CalendarClient interface {
	Ready() bool
	CreateEvent(ctx context.Context, a calendar.Appointment) (*gcal.Event, error)
}

const slotStep = 15 * time.Minute

type Options struct {
	DoctorChatID    int64
	DoctorEmail     string
	AttachPDF       bool
	FontPath        string
	AppointmentLead time.Duration
	Duration        time.Duration
}

// Service delivers completed consultations to the doctor and books the
// follow-up appointment.
type Service struct {
	tgClient TelegramClient
	calendar CalendarClient
	opts     Options
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(tg TelegramClient, cal CalendarClient, opts Options, logger *slog.Logger) *Service {
	if opts.AppointmentLead <= 0 {
		opts.AppointmentLead = time.Hour
	}
	if opts.Duration <= 0 {
		opts.Duration = 30 * time.Minute
	}
	return &Service{
		tgClient: tg,
		calendar: cal,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

var _ consultation.Notifier = (*Service)(nil)

// SendSummary posts the HTML consultation summary to the doctor chat and,
// when enabled, a PDF copy. PDF failures are logged only.
func (s *Service) SendSummary(ctx context.Context, info consultation.PatientInfo, symptoms []string, responses map[string][]string) error {
	at := s.now()
	text := FormatSummary(info, symptoms, responses, at)
	if err := s.tgClient.SendMessage(ctx, s.opts.DoctorChatID, text, telegram.ParseModeHTML); err != nil {
		return err
	}

	if !s.opts.AttachPDF {
		return nil
	}
	pdf, err := RenderPDF(s.opts.FontPath, info, symptoms, responses, at)
	if err != nil {
		s.logger.Warn("failed to render consultation pdf", "error", err)
		return nil
	}
	fileName := fmt.Sprintf("consultation_%s.pdf", at.Format("20060102_150405"))
	if err := s.tgClient.SendDocument(ctx, s.opts.DoctorChatID, pdf, fileName, "Consultation report"); err != nil {
		s.logger.Warn("failed to send consultation pdf", "error", err)
	}
	return nil
}

// ScheduleAppointment books the next free slot and describes it for the
// patient. Without an authorized calendar the booking is only logged.
func (s *Service) ScheduleAppointment(ctx context.Context, info consultation.PatientInfo) (string, error) {
	slot := NextSlot(s.now(), s.opts.AppointmentLead)
	when := slot.Format("2006-01-02 at 15:04")

	if s.calendar != nil && s.calendar.Ready() && info.Email != "" {
		_, err := s.calendar.CreateEvent(ctx, calendar.Appointment{
			Summary:      "Cardiology Consultation - " + orDefault(info.Name, "Patient"),
			Description:  eventDescription(info, s.opts.DoctorEmail, s.opts.Duration),
			Start:        slot,
			Duration:     s.opts.Duration,
			PatientName:  info.Name,
			PatientEmail: info.Email,
		})
		if err == nil {
			return when + " (Google Calendar invite sent)", nil
		}
		s.logger.Warn("calendar event creation failed", "error", err)
	}

	s.logger.Info("appointment scheduled for manual processing",
		"time", when,
		"patient", orDefault(info.Name, "Not provided"),
		"patient_email", orDefault(info.Email, "No email provided"),
		"doctor_email", s.opts.DoctorEmail,
		"duration", s.opts.Duration,
	)
	return when + " (Calendar details logged for manual processing)", nil
}

// NextSlot is now+lead moved forward to the next quarter hour. A time
// already on a boundary still moves to the following one.
func NextSlot(now time.Time, lead time.Duration) time.Time {
	t := now.Add(lead)
	return t.Truncate(slotStep).Add(slotStep)
}

// FormatSummary renders the doctor-facing summary as Telegram HTML.
func FormatSummary(info consultation.PatientInfo, symptoms []string, responses map[string][]string, at time.Time) string {
	var b strings.Builder
	b.WriteString("<b>CARDIOLOGY CONSULTATION REQUEST</b>\n\n")
	b.WriteString("<b>Patient Information:</b>\n")
	fmt.Fprintf(&b, "• Name: %s\n", esc(orDefault(info.Name, "Not provided")))
	fmt.Fprintf(&b, "• Email: %s\n", esc(orDefault(info.Email, "Not provided")))
	fmt.Fprintf(&b, "• Age: %s\n", ageText(info.Age))
	fmt.Fprintf(&b, "• Gender: %s\n\n", esc(orDefault(info.Gender, "Not provided")))

	reported := "None specified"
	if len(symptoms) > 0 {
		reported = strings.Join(symptoms, ", ")
	}
	fmt.Fprintf(&b, "<b>Reported Symptoms:</b> %s\n\n", esc(reported))
	b.WriteString("<b>Clinical Assessment:</b>")

	for _, symptom := range orderedSymptoms(symptoms, responses) {
		answers := responses[symptom]
		if len(answers) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n\n<b>%s:</b>", esc(strings.ToUpper(symptom)))
		for i, a := range answers {
			fmt.Fprintf(&b, "\n  %d. %s", i+1, esc(a))
		}
	}

	fmt.Fprintf(&b, "\n\n<b>Consultation Time:</b> %s", at.Format("2006-01-02 15:04:05"))
	b.WriteString("\n<b>Status:</b> Awaiting physician review")
	return b.String()
}

// orderedSymptoms lists symptoms in detection order followed by any
// answered symptom missing from that list, sorted.
func orderedSymptoms(symptoms []string, responses map[string][]string) []string {
	seen := make(map[string]bool, len(symptoms))
	out := make([]string, 0, len(symptoms))
	for _, s := range symptoms {
		if !seen[s] {
			out = append(out, s)
			seen[s] = true
		}
	}
	var rest []string
	for s := range responses {
		if !seen[s] {
			rest = append(rest, s)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

func eventDescription(info consultation.PatientInfo, doctorEmail string, d time.Duration) string {
	return fmt.Sprintf(`CARDIOLOGY CONSULTATION

Patient Information:
• Name: %s
• Email: %s
• Age: %s
• Gender: %s

Consultation Details:
• Duration: %d minutes
• Type: Cardiology Assessment
• Provider: %s

This appointment was scheduled through CardioGenie AI Assistant.
Please join the video call at the scheduled time.`,
		orDefault(info.Name, "Not provided"),
		orDefault(info.Email, "Not provided"),
		ageText(info.Age),
		orDefault(info.Gender, "Not provided"),
		int(d.Minutes()),
		orDefault(doctorEmail, "Cardiology team"),
	)
}

// RenderPDF builds a one-page consultation report.
func RenderPDF(fontPath string, info consultation.PatientInfo, symptoms []string, responses map[string][]string, at time.Time) ([]byte, error) {
	pdf := gopdf.GoPdf{}
	pdf.Start(gopdf.Config{PageSize: *gopdf.PageSizeA4})
	pdf.AddPage()

	if err := pdf.AddTTFFont("DejaVu", fontPath); err != nil {
		return nil, fmt.Errorf("failed to load font for PDF from %s: %w", fontPath, err)
	}

	if err := pdf.SetFont("DejaVu", "", 20); err != nil {
		return nil, err
	}
	pdf.Cell(nil, "Cardiology Consultation Report")
	pdf.Br(30)

	if err := pdf.SetFont("DejaVu", "", 12); err != nil {
		return nil, err
	}
	lines := []string{
		"Date: " + at.Format("2006-01-02 15:04"),
		"Name: " + orDefault(info.Name, "Not provided"),
		"Email: " + orDefault(info.Email, "Not provided"),
		"Age: " + ageText(info.Age),
		"Gender: " + orDefault(info.Gender, "Not provided"),
	}
	for _, l := range lines {
		pdf.Cell(nil, l)
		pdf.Br(15)
	}
	pdf.Br(10)

	if err := pdf.SetFont("DejaVu", "", 14); err != nil {
		return nil, err
	}
	pdf.Cell(nil, "Reported symptoms:")
	pdf.Br(18)

	if err := pdf.SetFont("DejaVu", "", 11); err != nil {
		return nil, err
	}
	if len(symptoms) == 0 {
		pdf.Cell(nil, "- None specified.")
		pdf.Br(15)
	}
	for _, symptom := range orderedSymptoms(symptoms, responses) {
		pdf.Cell(nil, "- "+symptom)
		pdf.Br(14)
		for i, a := range responses[symptom] {
			wrapped, _ := pdf.SplitText(fmt.Sprintf("%d. %s", i+1, a), 480)
			for _, l := range wrapped {
				pdf.SetX(pdf.MarginLeft() + 20)
				pdf.Cell(nil, l)
				pdf.Br(12)
			}
		}
		pdf.Br(6)
	}

	var buf bytes.Buffer
	if _, err := pdf.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write PDF: %w", err)
	}
	return buf.Bytes(), nil
}

func esc(s string) string { return html.EscapeString(s) }

func ageText(age int) string {
	if age <= 0 {
		return "Not provided"
	}
	return fmt.Sprint(age)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
