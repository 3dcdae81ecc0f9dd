package model

// VehicleStatusAvailable: единственный статус, при котором автомобиль можно забронировать.
const VehicleStatusAvailable = "available"

// StationStatusActive: статус станции, доступной для выдачи автомобилей.
const StationStatusActive = "active"

// Vehicle описывает автомобиль из каталога.
type Vehicle struct {
	ID             string  `json:"_id"`
	StationID      string  `json:"stationId"`
	VIN            string  `json:"vin,omitempty"`
	Model          string  `json:"model"`
	PlateNo        string  `json:"plateNo"`
	BatteryPercent float64 `json:"batteryPercent"`
	Odometer       float64 `json:"odometer"`
	Status         string  `json:"status"`
	Brand          Ref     `json:"brand"`
}

// Available сообщает, доступен ли автомобиль для бронирования.
func (v Vehicle) Available() bool {
	return v.Status == VehicleStatusAvailable
}

// Station описывает станцию выдачи.
type Station struct {
	ID        string  `json:"_id"`
	Code      string  `json:"code"`
	Name      string  `json:"name"`
	Address   string  `json:"address"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	OpenHours string  `json:"openHours,omitempty"`
	Status    string  `json:"status"`
}

// Active сообщает, принимает ли станция бронирования.
func (s Station) Active() bool {
	return NormalizeStationStatus(s.Status) == StationStatusActive
}

// Matches сообщает, ссылается ли ключ на станцию по идентификатору или коду.
func (s Station) Matches(key string) bool {
	return key != "" && (s.ID == key || s.Code == key)
}

// Brand описывает марку автомобиля.
type Brand struct {
	ID            string  `json:"_id"`
	Code          string  `json:"code"`
	Name          string  `json:"name"`
	BaseDailyRate float64 `json:"baseDailyRate"`
	DepositAmount float64 `json:"depositAmount"`
}

// Catalog: справочные данные, против которых проверяется черновик бронирования.
type Catalog struct {
	Vehicles []Vehicle `json:"vehicles"`
	Stations []Station `json:"stations"`
	Brands   []Brand   `json:"brands"`
}

// FindVehicle ищет доступный для бронирования автомобиль по идентификатору.
func (c *Catalog) FindVehicle(id string) (Vehicle, bool) {
	for _, v := range c.Vehicles {
		if v.ID == id && v.Available() {
			return v, true
		}
	}
	return Vehicle{}, false
}

// FindStation ищет активную станцию по идентификатору или коду.
func (c *Catalog) FindStation(key string) (Station, bool) {
	for _, s := range c.Stations {
		if s.Matches(key) && s.Active() && s.ID != "" {
			return s, true
		}
	}
	return Station{}, false
}
