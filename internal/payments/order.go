package payments

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var (
	descriptionUserPattern = regexp.MustCompile(`User (\d+)`)
	orderIDPattern         = regexp.MustCompile(`^user_(\d+)_\d+$`)
	paymentIDPattern       = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
)

// OrderID encodes the user id and request time, e.g. user_7_1700000000.
func OrderID(userID int64, at time.Time) string {
	return fmt.Sprintf("user_%d_%d", userID, at.Unix())
}

// OrderDescription renders the human-readable order text sent to the gateway.
// Notifications carry it back and the user id is recovered from it.
func OrderDescription(prefix string, userID int64) string {
	if prefix == "" {
		return fmt.Sprintf("User %d", userID)
	}
	return fmt.Sprintf("%s - User %d", prefix, userID)
}

// UserFromDescription extracts the id from "... User {id}".
func UserFromDescription(description string) (int64, bool) {
	m := descriptionUserPattern.FindStringSubmatch(description)
	if m == nil {
		return 0, false
	}
	return parseUserID(m[1])
}

// UserFromOrderID extracts the id from an order id built by OrderID.
func UserFromOrderID(orderID string) (int64, bool) {
	m := orderIDPattern.FindStringSubmatch(orderID)
	if m == nil {
		return 0, false
	}
	return parseUserID(m[1])
}

func parseUserID(digits string) (int64, bool) {
	id, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// ValidPaymentID reports whether id could have been assigned by the gateway.
func ValidPaymentID(id string) bool {
	return paymentIDPattern.MatchString(id)
}
