package addressspace

import "modbus-bridge/internal/bridgeerr"

func errNoSuchVariable(deviceID, tagName string) error {
	return bridgeerr.New(bridgeerr.NotFound, "addressspace", "no such variable "+deviceID+"/"+tagName)
}
