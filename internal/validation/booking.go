// Package validation содержит проверку черновика бронирования перед отправкой на бэкенд.
package validation

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/mmeshcher/evbooking/internal/model"
)

// Code: машинно-читаемый код ошибки валидации.
type Code string

const (
	CodeMissing              Code = "missing"
	CodeInvalidEmail         Code = "invalid_email"
	CodeUnknownVehicle       Code = "unknown_vehicle"
	CodeUnknownStation       Code = "unknown_station"
	CodePickupInPast         Code = "pickup_in_past"
	CodeInvalidRentalDays    Code = "invalid_rental_days"
	CodeConsentRequired      Code = "consent_required"
	CodeInvalidSurcharge     Code = "invalid_surcharge"
	CodeInvalidPaymentMethod Code = "invalid_payment_method"
)

// Имена полей черновика в ошибках валидации.
const (
	FieldRenterName    = "renterName"
	FieldPhone         = "phoneNumber"
	FieldEmail         = "email"
	FieldVehicle       = "vehicle"
	FieldStation       = "pickupStation"
	FieldPickupTime    = "pickupTime"
	FieldRentalDays    = "rentalDays"
	FieldConsents      = "agreements"
	FieldSurcharge     = "surchargeAmount"
	FieldPaymentMethod = "paymentMethod"
)

// Error описывает первую найденную ошибку в черновике.
type Error struct {
	Field   string `json:"field"`
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Code)
}

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

const pickupTimeLayout = "2006-01-02T15:04:05.000Z07:00"

// Validator проверяет черновик бронирования и строит нормализованное тело запроса.
type Validator struct {
	validate *validator.Validate
	now      func() time.Time
}

// draftFields: нормализованные поля черновика с правилами формы.
type draftFields struct {
	RenterName           string              `validate:"required"`
	Phone                string              `validate:"required"`
	Email                string              `validate:"required,booking_email"`
	Vehicle              string              `validate:"required"`
	Station              string              `validate:"required"`
	PickupTime           time.Time           `validate:"required,booking_future"`
	RentalDays           float64             `validate:"gt=0,booking_whole"`
	AgreedToPaymentTerms bool                `validate:"eq=true"`
	AgreedToDataSharing  bool                `validate:"eq=true"`
	Surcharge            float64             `validate:"gte=0"`
	PaymentMethod        model.PaymentMethod `validate:"booking_payment_method"`
}

// New создаёт валидатор. Если now == nil, используется time.Now.
func New(now func() time.Time) (*Validator, error) {
	if now == nil {
		now = time.Now
	}

	v := validator.New()
	custom := map[string]validator.Func{
		"booking_email": func(fl validator.FieldLevel) bool {
			return emailPattern.MatchString(fl.Field().String())
		},
		"booking_future": func(fl validator.FieldLevel) bool {
			t, ok := fl.Field().Interface().(time.Time)
			return ok && t.After(now())
		},
		"booking_whole": func(fl validator.FieldLevel) bool {
			f := fl.Field().Float()
			return f == math.Trunc(f) && f <= math.MaxInt32
		},
		"booking_payment_method": func(fl validator.FieldLevel) bool {
			return model.PaymentMethod(fl.Field().String()).Valid()
		},
	}
	for tag, fn := range custom {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return nil, fmt.Errorf("register %s validation: %w", tag, err)
		}
	}

	return &Validator{validate: v, now: now}, nil
}

// failedFields: имя поля draftFields -> тег первого нарушенного правила.
type failedFields map[string]string

// first возвращает ошибку первого по порядку нарушенного поля.
func (f failedFields) first(fields ...string) *Error {
	for _, name := range fields {
		if tag, ok := f[name]; ok {
			return fieldError(name, tag)
		}
	}
	return nil
}

func fieldError(name, tag string) *Error {
	switch name {
	case "RenterName":
		return &Error{Field: FieldRenterName, Code: CodeMissing, Message: "Vui lòng nhập tên người thuê."}
	case "Phone":
		return &Error{Field: FieldPhone, Code: CodeMissing, Message: "Vui lòng nhập số điện thoại của khách."}
	case "Email":
		if tag == "required" {
			return &Error{Field: FieldEmail, Code: CodeMissing, Message: "Vui lòng nhập email liên hệ."}
		}
		return &Error{Field: FieldEmail, Code: CodeInvalidEmail, Message: "Vui lòng kiểm tra lại định dạng email."}
	case "Vehicle":
		return &Error{Field: FieldVehicle, Code: CodeMissing, Message: "Vui lòng chọn xe để tiếp tục."}
	case "Station":
		return &Error{Field: FieldStation, Code: CodeMissing, Message: "Vui lòng chọn trạm nhận xe."}
	case "PickupTime":
		if tag == "required" {
			return &Error{Field: FieldPickupTime, Code: CodeMissing, Message: "Vui lòng chọn thời gian nhận xe."}
		}
		return &Error{Field: FieldPickupTime, Code: CodePickupInPast, Message: "Thời gian nhận xe phải sau thời gian hiện tại."}
	case "RentalDays":
		return &Error{Field: FieldRentalDays, Code: CodeInvalidRentalDays, Message: "Số ngày thuê phải lớn hơn 0."}
	case "AgreedToPaymentTerms", "AgreedToDataSharing":
		return &Error{Field: FieldConsents, Code: CodeConsentRequired, Message: "Vui lòng đồng ý với điều khoản thanh toán và chia sẻ dữ liệu."}
	case "Surcharge":
		return &Error{Field: FieldSurcharge, Code: CodeInvalidSurcharge, Message: "Phụ phí không được âm."}
	default:
		return &Error{Field: FieldPaymentMethod, Code: CodeInvalidPaymentMethod, Message: "Phương thức thanh toán không được hỗ trợ."}
	}
}

func (v *Validator) check(fields *draftFields) (failedFields, error) {
	err := v.validate.Struct(fields)
	if err == nil {
		return nil, nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil, fmt.Errorf("validate booking draft: %w", err)
	}

	failed := make(failedFields, len(verrs))
	for _, fe := range verrs {
		failed[fe.StructField()] = fe.Tag()
	}
	return failed, nil
}

// Validate проверяет черновик по правилам формы в порядке их следования и возвращает
// нормализованный payload либо первую ошибку. renterID подставляется из сессии.
// Поиск автомобиля и станции в каталоге стоит в том же порядке, сразу после
// проверки соответствующего поля на пустоту.
func (v *Validator) Validate(draft model.BookingDraft, catalog *model.Catalog, renterID string) (*model.BookingPayload, error) {
	if catalog == nil {
		catalog = &model.Catalog{}
	}

	fields := &draftFields{
		RenterName:           strings.TrimSpace(draft.RenterName),
		Phone:                strings.TrimSpace(draft.Phone),
		Email:                strings.TrimSpace(draft.Email),
		Vehicle:              strings.TrimSpace(draft.VehicleID),
		Station:              strings.TrimSpace(draft.StationID),
		PickupTime:           draft.PickupTime,
		RentalDays:           parseNumber(draft.RentalDays),
		AgreedToPaymentTerms: draft.AgreedToPaymentTerms,
		AgreedToDataSharing:  draft.AgreedToDataSharing,
		Surcharge:            parseNumber(draft.Surcharge),
		PaymentMethod:        draft.PaymentMethod,
	}
	if fields.PaymentMethod == "" {
		fields.PaymentMethod = model.PaymentMethodBankTransfer
	}

	failed, err := v.check(fields)
	if err != nil {
		return nil, err
	}

	if e := failed.first("RenterName", "Phone", "Email", "Vehicle"); e != nil {
		return nil, e
	}
	vehicle, ok := catalog.FindVehicle(fields.Vehicle)
	if !ok {
		return nil, &Error{Field: FieldVehicle, Code: CodeUnknownVehicle, Message: "Xe đã chọn không còn sẵn sàng."}
	}

	if e := failed.first("Station"); e != nil {
		return nil, e
	}
	station, ok := catalog.FindStation(fields.Station)
	if !ok {
		return nil, &Error{Field: FieldStation, Code: CodeUnknownStation, Message: "Không thể xác định thông tin trạm đã chọn."}
	}

	if e := failed.first("PickupTime", "RentalDays", "AgreedToPaymentTerms", "AgreedToDataSharing", "Surcharge", "PaymentMethod"); e != nil {
		return nil, e
	}

	brandID := strings.TrimSpace(draft.BrandID)
	if brandID == "" {
		brandID = vehicle.Brand.ID
	}

	return &model.BookingPayload{
		RenterName:           fields.RenterName,
		PhoneNumber:          fields.Phone,
		Email:                fields.Email,
		Brand:                brandID,
		PickupStation:        station.ID,
		PickupTimeExpected:   draft.PickupTime.UTC().Format(pickupTimeLayout),
		RentalDays:           int(fields.RentalDays),
		PaymentMethod:        fields.PaymentMethod,
		AgreedToPaymentTerms: true,
		AgreedToDataSharing:  true,
		Renter:               renterID,
		Vehicle:              vehicle.ID,
		SurchargeAmount:      fields.Surcharge,
		Notes:                strings.TrimSpace(draft.Notes),
	}, nil
}

// parseNumber разбирает числовое поле формы. Нечисловой или пустой ввод даёт 0:
// для числа дней это ошибка, для сбора нулевой сбор, как в мобильной форме.
func parseNumber(raw string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}
