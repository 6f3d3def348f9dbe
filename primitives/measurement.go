package primitives

type MeasurementType string

const (
	Unitless       MeasurementType = "unitless"
	Continuous     MeasurementType = "continuous"
	Classification MeasurementType = "classification"
)

// Measurement describes what the values of a raster or a column mean.
type Measurement struct {
	Type        MeasurementType  `json:"type" validate:"required,oneof=unitless continuous classification"`
	Measurement string           `json:"measurement,omitempty"`
	Unit        string           `json:"unit,omitempty"`
	Classes     map[uint8]string `json:"classes,omitempty"`
}

func UnitlessMeasurement() Measurement {
	return Measurement{Type: Unitless}
}

func ContinuousMeasurement(measurement, unit string) Measurement {
	return Measurement{Type: Continuous, Measurement: measurement, Unit: unit}
}
