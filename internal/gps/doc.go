// Package gps owns the position sensor: the fix and satellite types shared by
// the rest of the module, the sources that produce them (serial NMEA receiver,
// gpsd, simulator) and the Service that starts and stops a source on demand.
//
// Events from the active source are delivered one at a time, in arrival
// order, to a single handler. Stop blocks until the delivery loop has exited.
package gps
