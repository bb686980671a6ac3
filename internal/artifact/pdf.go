package artifact

import (
	"bytes"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-pdf/fpdf"
)

const dateLayout = "Mon, 02 Jan 2006 15:04 MST"

type TicketData struct {
	TicketID      string
	QRPayload     string
	EventTitle    string
	Start         time.Time
	End           time.Time
	Venue         string
	Location      string
	Organizer     string
	Attendee      string
	AttendeeEmail string
	IssuedAt      time.Time
}

type InvitationData struct {
	EventID     uint
	Title       string
	Description string
	Category    string
	Start       time.Time
	End         time.Time
	Venue       string
	Location    string
	Organizer   string
	IssuedAt    time.Time
}

// RenderTicket lays out a one-page A5 ticket. Output depends only on d:
// document dates come from d.IssuedAt, resource catalogs are sorted and
// streams are left uncompressed.
func RenderTicket(d TicketData) ([]byte, error) {
	png, err := QRCode(d.QRPayload, 256)
	if err != nil {
		return nil, errors.Wrap(err, "encode qr")
	}

	pdf := newDocument("P", "A5", d.IssuedAt)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle("Ticket "+d.TicketID, false)
	pdf.AddPage()

	pdf.SetFillColor(32, 56, 100)
	pdf.Rect(0, 0, 148, 28, "F")
	pdf.SetTextColor(255, 255, 255)
	pdf.SetFont("Helvetica", "B", 18)
	pdf.SetXY(10, 9)
	pdf.CellFormat(128, 10, "EVENT TICKET", "", 0, "C", false, 0, "")

	pdf.SetTextColor(0, 0, 0)
	pdf.SetXY(10, 36)
	pdf.SetFont("Helvetica", "B", 15)
	pdf.MultiCell(128, 7, tr(d.EventTitle), "", "L", false)
	pdf.Ln(2)

	rows := [][2]string{
		{"Date", d.Start.Format(dateLayout)},
		{"Ends", d.End.Format(dateLayout)},
		{"Venue", venueLine(d.Venue, d.Location)},
		{"Organizer", d.Organizer},
		{"Attendee", attendeeLine(d.Attendee, d.AttendeeEmail)},
	}
	for _, row := range rows {
		pdf.SetFont("Helvetica", "B", 10)
		pdf.CellFormat(28, 7, row[0], "", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 10)
		pdf.CellFormat(100, 7, tr(row[1]), "", 1, "L", false, 0, "")
	}

	pdf.RegisterImageOptionsReader("qr", fpdf.ImageOptions{ImageType: "PNG"}, bytes.NewReader(png))
	pdf.ImageOptions("qr", 44, 92, 60, 60, false, fpdf.ImageOptions{ImageType: "PNG"}, 0, "")

	pdf.SetXY(10, 156)
	pdf.SetFont("Courier", "B", 10)
	pdf.CellFormat(128, 6, "Ticket ID: "+d.TicketID, "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "I", 8)
	pdf.SetTextColor(110, 110, 110)
	pdf.CellFormat(128, 6, "Present this QR code at the entrance. Issued "+d.IssuedAt.UTC().Format(time.RFC3339), "", 1, "C", false, 0, "")

	return output(pdf)
}

// RenderInvitation produces the default invitation for events that have no
// uploaded invitation file.
func RenderInvitation(d InvitationData) ([]byte, error) {
	pdf := newDocument("L", "A5", d.IssuedAt)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle("Invitation "+d.Title, false)
	pdf.AddPage()

	pdf.SetDrawColor(32, 56, 100)
	pdf.SetLineWidth(1.2)
	pdf.Rect(6, 6, 198, 136, "D")

	pdf.SetXY(10, 18)
	pdf.SetFont("Times", "I", 14)
	pdf.CellFormat(190, 8, "You are cordially invited to", "", 1, "C", false, 0, "")
	pdf.SetFont("Times", "B", 24)
	pdf.MultiCell(190, 12, tr(d.Title), "", "C", false)
	if d.Category != "" {
		pdf.SetFont("Helvetica", "", 10)
		pdf.CellFormat(190, 6, tr(d.Category), "", 1, "C", false, 0, "")
	}
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "", 12)
	pdf.CellFormat(190, 7, d.Start.Format(dateLayout)+" - "+d.End.Format("15:04 MST"), "", 1, "C", false, 0, "")
	pdf.CellFormat(190, 7, tr(venueLine(d.Venue, d.Location)), "", 1, "C", false, 0, "")
	pdf.Ln(4)

	if d.Description != "" {
		pdf.SetFont("Helvetica", "", 10)
		pdf.SetX(25)
		pdf.MultiCell(160, 5, tr(d.Description), "", "C", false)
	}

	pdf.SetXY(10, 124)
	pdf.SetFont("Helvetica", "I", 10)
	pdf.CellFormat(190, 6, tr("Hosted by "+d.Organizer), "", 1, "C", false, 0, "")

	return output(pdf)
}

func newDocument(orientation, size string, issued time.Time) *fpdf.Fpdf {
	pdf := fpdf.New(orientation, "mm", size, "")
	pdf.SetCompression(false)
	pdf.SetCatalogSort(true)
	pdf.SetCreationDate(issued)
	pdf.SetModificationDate(issued)
	pdf.SetCreator("campus-events", false)
	pdf.SetAutoPageBreak(false, 0)
	return pdf
}

func output(pdf *fpdf.Fpdf) ([]byte, error) {
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, errors.Wrap(err, "render pdf")
	}
	return buf.Bytes(), nil
}

func venueLine(venue, location string) string {
	if location == "" {
		return venue
	}
	return fmt.Sprintf("%s, %s", venue, location)
}

func attendeeLine(name, email string) string {
	if email == "" {
		return name
	}
	return fmt.Sprintf("%s <%s>", name, email)
}
