// Package model содержит доменные сущности сервиса бронирования электромобилей.
package model

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// BookingStatus описывает статус бронирования на стороне бэкенда.
type BookingStatus string

const (
	BookingStatusPendingApproval BookingStatus = "PENDING_APPROVAL"
	BookingStatusApproved        BookingStatus = "APPROVED"
	BookingStatusWaitingPayment  BookingStatus = "WAITING_PAYMENT"
	BookingStatusPaid            BookingStatus = "PAID"
	BookingStatusSuccess         BookingStatus = "SUCCESS"
	BookingStatusCancelled       BookingStatus = "CANCELLED"
)

// Устаревшие статусы в нижнем регистре, которые ещё отдаёт часть записей бэкенда.
var legacyStatuses = map[string]BookingStatus{
	"pending":   BookingStatusPendingApproval,
	"confirmed": BookingStatusWaitingPayment,
	"paid":      BookingStatusPaid,
	"cancelled": BookingStatusCancelled,
}

// Canonical приводит устаревшие псевдонимы статуса к каноническому значению.
func (s BookingStatus) Canonical() BookingStatus {
	if c, ok := legacyStatuses[string(s)]; ok {
		return c
	}
	return s
}

// IsPaid сообщает, что оплата по бронированию подтверждена.
func (s BookingStatus) IsPaid() bool {
	switch s.Canonical() {
	case BookingStatusPaid, BookingStatusSuccess:
		return true
	}
	return false
}

// IsCancelled сообщает, что бронирование отменено.
func (s BookingStatus) IsCancelled() bool {
	return s.Canonical() == BookingStatusCancelled
}

// Payable сообщает, можно ли запустить оплату для бронирования в этом статусе.
func (s BookingStatus) Payable() bool {
	switch s.Canonical() {
	case BookingStatusApproved, BookingStatusWaitingPayment:
		return true
	}
	return false
}

// Label возвращает подпись статуса для списка бронирований.
func (s BookingStatus) Label() string {
	switch s.Canonical() {
	case BookingStatusSuccess:
		return "Hoàn thành"
	case BookingStatusPaid:
		return "Đã thanh toán"
	case BookingStatusWaitingPayment:
		return "Chờ thanh toán"
	case BookingStatusApproved:
		return "Đã duyệt"
	case BookingStatusPendingApproval:
		return "Chờ xác nhận"
	case BookingStatusCancelled:
		return "Đã hủy"
	}
	return string(s)
}

// PaymentMethod описывает способ оплаты бронирования.
type PaymentMethod string

const (
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodCash         PaymentMethod = "cash"
)

// Online сообщает, требует ли способ оплаты онлайн-checkout.
func (m PaymentMethod) Online() bool {
	return m != PaymentMethodCash
}

// Valid сообщает, поддерживается ли способ оплаты.
func (m PaymentMethod) Valid() bool {
	return m == PaymentMethodBankTransfer || m == PaymentMethodCash
}

// BookingDraft содержит данные формы бронирования до отправки на бэкенд.
type BookingDraft struct {
	RenterName           string
	Phone                string
	Email                string
	VehicleID            string
	BrandID              string
	StationID            string
	PickupTime           time.Time
	RentalDays           string
	Surcharge            string
	PaymentMethod        PaymentMethod
	AgreedToPaymentTerms bool
	AgreedToDataSharing  bool
	Notes                string
}

// BookingPayload: нормализованное тело запроса POST /bookings.
type BookingPayload struct {
	RenterName           string        `json:"renterName"`
	PhoneNumber          string        `json:"phoneNumber"`
	Email                string        `json:"email"`
	Brand                string        `json:"brand"`
	PickupStation        string        `json:"pickupStation"`
	PickupTimeExpected   string        `json:"pickupTimeExpected"`
	RentalDays           int           `json:"rentalDays"`
	PaymentMethod        PaymentMethod `json:"paymentMethod"`
	AgreedToPaymentTerms bool          `json:"agreedToPaymentTerms"`
	AgreedToDataSharing  bool          `json:"agreedToDataSharing"`
	Renter               string        `json:"renter"`
	Vehicle              string        `json:"vehicle"`
	SurchargeAmount      float64       `json:"surchargeAmount"`
	Notes                string        `json:"notes,omitempty"`
}

// Ref: ссылка на связанную сущность. Бэкенд отдаёт её либо строкой-идентификатором,
// либо заполненным объектом.
type Ref struct {
	ID      string `json:"_id"`
	Code    string `json:"code,omitempty"`
	Name    string `json:"name,omitempty"`
	Model   string `json:"model,omitempty"`
	PlateNo string `json:"plateNo,omitempty"`
	Address string `json:"address,omitempty"`
}

// UnmarshalJSON принимает как строку, так и объект.
func (r *Ref) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*r = Ref{}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return err
		}
		*r = Ref{ID: id}
		return nil
	}
	type plain Ref
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = Ref(p)
	return nil
}

// Booking описывает бронирование, созданное бэкендом.
type Booking struct {
	ID                   string        `json:"_id"`
	BookingCode          string        `json:"bookingCode,omitempty"`
	Status               BookingStatus `json:"status"`
	RenterName           string        `json:"renterName"`
	PhoneNumber          string        `json:"phoneNumber"`
	Email                string        `json:"email"`
	Renter               string        `json:"renter,omitempty"`
	Vehicle              Ref           `json:"vehicle"`
	Brand                Ref           `json:"brand"`
	PickupStation        Ref           `json:"pickupStation"`
	PickupTimeExpected   string        `json:"pickupTimeExpected,omitempty"`
	RentalDays           int           `json:"rentalDays"`
	PaymentMethod        PaymentMethod `json:"paymentMethod"`
	AgreedToPaymentTerms bool          `json:"agreedToPaymentTerms"`
	AgreedToDataSharing  bool          `json:"agreedToDataSharing"`
	SurchargeAmount      *float64      `json:"surchargeAmount,omitempty"`
	BasePrice            *float64      `json:"basePrice,omitempty"`
	DepositAmount        *float64      `json:"depositAmount,omitempty"`
	TotalPayable         *float64      `json:"totalPayable,omitempty"`
	Notes                string        `json:"notes,omitempty"`
	CreatedAt            *time.Time    `json:"createdAt,omitempty"`
	UpdatedAt            *time.Time    `json:"updatedAt,omitempty"`
}

// CheckoutSession описывает сессию оплаты на внешней платёжной странице.
type CheckoutSession struct {
	BookingID     string    `json:"bookingId"`
	OrderCode     string    `json:"orderCode"`
	PaymentLinkID string    `json:"paymentLinkId"`
	CheckoutURL   string    `json:"checkoutUrl"`
	CreatedAt     time.Time `json:"createdAt"`
}

// NormalizeStationStatus приводит статус станции к нижнему регистру без пробелов.
func NormalizeStationStatus(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
