package gps

// powerLine switches the receiver's supply.
type powerLine interface {
	Set(on bool) error
	Close() error
}

var openPowerLineFn = openPowerLine
