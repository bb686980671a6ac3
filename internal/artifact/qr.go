package artifact

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/JonasLeetTheWay/campus-events/internal/apperr"
	"github.com/skip2/go-qrcode"
)

const payloadPrefix = "CEB1"

// QRPayload is the string scanned at the door: ticket id plus event id.
func QRPayload(ticketID string, eventID uint) string {
	return fmt.Sprintf("%s|%s|%d", payloadPrefix, ticketID, eventID)
}

// ParsePayload reverses QRPayload for entry verification.
func ParsePayload(payload string) (ticketID string, eventID uint, err error) {
	parts := strings.Split(payload, "|")
	if len(parts) != 3 || parts[0] != payloadPrefix || parts[1] == "" {
		return "", 0, apperr.Validation("unrecognised ticket code")
	}
	id, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return "", 0, apperr.Validation("unrecognised ticket code")
	}
	return parts[1], uint(id), nil
}

// QRCode encodes payload as a PNG.
func QRCode(payload string, size int) ([]byte, error) {
	return qrcode.Encode(payload, qrcode.Medium, size)
}
