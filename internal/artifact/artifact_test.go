package artifact

import (
	"bytes"
	"image/png"
	"testing"
	"time"

	"github.com/JonasLeetTheWay/campus-events/internal/apperr"
	"github.com/JonasLeetTheWay/campus-events/internal/models"
	"github.com/cockroachdb/errors"
)

func sampleTicket() TicketData {
	issued := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	return TicketData{
		TicketID:      "3f1c9a52-8d0e-4b7a-9b61-2f0f3c0d9e11",
		QRPayload:     QRPayload("3f1c9a52-8d0e-4b7a-9b61-2f0f3c0d9e11", 12),
		EventTitle:    "Robotics Expo",
		Start:         issued.Add(72 * time.Hour),
		End:           issued.Add(75 * time.Hour),
		Venue:         "Seminar Hall 1",
		Location:      "Main",
		Organizer:     "Olivia Organizer",
		Attendee:      "Sam Student",
		AttendeeEmail: "sam@example.com",
		IssuedAt:      issued,
	}
}

func TestRenderTicketIsDeterministic(t *testing.T) {
	d := sampleTicket()

	first, err := RenderTicket(d)
	if err != nil {
		t.Fatalf("RenderTicket: %v", err)
	}
	second, err := RenderTicket(d)
	if err != nil {
		t.Fatalf("RenderTicket: %v", err)
	}

	if !bytes.HasPrefix(first, []byte("%PDF-")) {
		t.Fatalf("output is not a PDF: %q", first[:8])
	}
	if !bytes.Equal(first, second) {
		t.Fatal("rendering the same ticket twice produced different bytes")
	}
	if !bytes.Contains(first, []byte(d.TicketID)) {
		t.Error("ticket id not present in the document")
	}
}

func TestRenderTicketDiffersPerTicket(t *testing.T) {
	a := sampleTicket()
	b := sampleTicket()
	b.TicketID = "00000000-0000-4000-8000-000000000001"
	b.QRPayload = QRPayload(b.TicketID, 12)

	pa, err := RenderTicket(a)
	if err != nil {
		t.Fatal(err)
	}
	pb, err := RenderTicket(b)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(pa, pb) {
		t.Fatal("different tickets rendered identically")
	}
}

func TestRenderInvitation(t *testing.T) {
	start := time.Date(2026, 5, 10, 18, 0, 0, 0, time.UTC)
	d := InvitationData{
		Title:     "Cultural Night",
		Category:  "Cultural",
		Start:     start,
		End:       start.Add(3 * time.Hour),
		Venue:     "A Block Hall",
		Organizer: "Olivia Organizer",
		IssuedAt:  start.Add(-30 * 24 * time.Hour),
	}
	first, err := RenderInvitation(d)
	if err != nil {
		t.Fatal(err)
	}
	second, err := RenderInvitation(d)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, second) {
		t.Fatal("invitation rendering is not deterministic")
	}
	if !bytes.Contains(first, []byte("Cultural Night")) {
		t.Error("title missing from invitation")
	}
}

func TestQRPayloadRoundTrip(t *testing.T) {
	payload := QRPayload("abc-123", 99)
	if payload != "CEB1|abc-123|99" {
		t.Fatalf("payload = %q", payload)
	}
	ticket, event, err := ParsePayload(payload)
	if err != nil || ticket != "abc-123" || event != 99 {
		t.Fatalf("ParsePayload = %q, %d, %v", ticket, event, err)
	}
	for _, bad := range []string{"", "CEB1|abc", "XXX|abc|1", "CEB1||1", "CEB1|abc|x"} {
		if _, _, err := ParsePayload(bad); !errors.Is(err, apperr.ErrValidation) {
			t.Errorf("ParsePayload(%q) = %v, want validation error", bad, err)
		}
	}
}

func TestQRCodeIsPNG(t *testing.T) {
	data, err := QRCode(QRPayload("abc", 1), 128)
	if err != nil {
		t.Fatal(err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("not a png: %v", err)
	}
	if img.Bounds().Dx() != 128 {
		t.Errorf("width = %d, want 128", img.Bounds().Dx())
	}
}

func TestTicketDataRequiresConfirmedBooking(t *testing.T) {
	b := &models.Booking{Status: models.BookingPending}
	if _, err := TicketDataFor(b); !errors.Is(err, apperr.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
}
