package model

import "time"

// OutcomeKind описывает итог сверки оплаты.
type OutcomeKind string

const (
	OutcomeConfirmed OutcomeKind = "CONFIRMED"
	OutcomeFailed    OutcomeKind = "FAILED"
	OutcomeTimedOut  OutcomeKind = "TIMED_OUT"
)

// Источники сигнала, приведшего к итогу.
const (
	SourcePoll     = "poll"
	SourceRedirect = "redirect"
	SourceMessage  = "message"
	SourceTimeout  = "timeout"
)

// Outcome: терминальное событие сверки оплаты, отдаваемое UI.
type Outcome struct {
	AttemptID  string      `json:"attemptId"`
	BookingID  string      `json:"bookingId"`
	Kind       OutcomeKind `json:"kind"`
	OrderCode  string      `json:"orderCode,omitempty"`
	Source     string      `json:"source"`
	ResolvedAt time.Time   `json:"resolvedAt"`
}

// Message возвращает текст уведомления для пользователя.
func (o Outcome) Message() string {
	switch o.Kind {
	case OutcomeConfirmed:
		return "Thanh toán thành công"
	case OutcomeFailed:
		return "Đã hủy thanh toán. Bạn có thể thanh toán lại sau"
	case OutcomeTimedOut:
		return "Chưa xác nhận được kết quả thanh toán. Vui lòng kiểm tra lại trong danh sách đơn đặt"
	}
	return ""
}
