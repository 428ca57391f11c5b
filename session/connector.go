package session

import (
	"time"

	"github.com/hipsterbrown/servobus/dynamixel"
)

// SerialConnector opens Dynamixel buses on local serial ports.
type SerialConnector struct{}

// ConnectV1 opens a Protocol 1.0 bus.
func (SerialConnector) ConnectV1(port string, baudrate int, timeout time.Duration) (V1Bus, error) {
	b, err := dynamixel.NewBusV1(dynamixel.BusConfig{Port: port, BaudRate: baudrate, Timeout: timeout})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// ConnectV2 opens a Protocol 2.0 bus.
func (SerialConnector) ConnectV2(port string, baudrate int, timeout time.Duration) (V2Bus, error) {
	b, err := dynamixel.NewBusV2(dynamixel.BusConfig{Port: port, BaudRate: baudrate, Timeout: timeout})
	if err != nil {
		return nil, err
	}
	return b, nil
}
