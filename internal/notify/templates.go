package notify

import (
	"fmt"
	"time"

	"chamapay/internal/model"
)

func amount(w model.Withdrawal) string {
	return "KES " + w.Amount.StringFixed(2)
}

func Initiated(w model.Withdrawal) string {
	return fmt.Sprintf("Withdrawal %s of %s to %s has been initiated by %s.",
		w.Reference, amount(w), w.Phone, w.Initiator.Name)
}

func AwaitingApproval(w model.Withdrawal) string {
	return fmt.Sprintf("Withdrawal %s of %s to %s is awaiting approval.", w.Reference, amount(w), w.Phone)
}

func SubmitFailed(w model.Withdrawal) string {
	return fmt.Sprintf("Withdrawal %s of %s to %s could not be sent: %s. No money has moved.",
		w.Reference, amount(w), w.Phone, w.ResultDesc)
}

func Completed(w model.Withdrawal) string {
	return fmt.Sprintf("Withdrawal %s of %s to %s completed. Receipt %s.",
		w.Reference, amount(w), w.Phone, w.GatewayTxnID)
}

func Failed(w model.Withdrawal) string {
	return fmt.Sprintf("Withdrawal %s of %s to %s failed: %s.", w.Reference, amount(w), w.Phone, w.ResultDesc)
}

func TimedOut(w model.Withdrawal) string {
	return fmt.Sprintf("Withdrawal %s of %s to %s timed out at the provider. It is under review; do not retry until it is reconciled.",
		w.Reference, amount(w), w.Phone)
}

func Rejected(w model.Withdrawal, reason string) string {
	return fmt.Sprintf("Withdrawal %s of %s to %s was rejected: %s.", w.Reference, amount(w), w.Phone, reason)
}

func OTP(code string, ttl time.Duration) string {
	return fmt.Sprintf("Your verification code is %s. It expires in %d minutes.", code, int(ttl.Minutes()))
}

func ApprovalCode(w model.Withdrawal, code string, ttl time.Duration) string {
	return fmt.Sprintf("Approval code %s for withdrawal %s of %s to %s. It expires in %d minutes.",
		code, w.Reference, amount(w), w.Phone, int(ttl.Minutes()))
}

// ForStatus picks the template for a terminal transition.
func ForStatus(w model.Withdrawal) string {
	switch w.Status {
	case model.StatusCompleted:
		return Completed(w)
	case model.StatusTimeout:
		return TimedOut(w)
	default:
		return Failed(w)
	}
}
