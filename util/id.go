// vpncloud - Peer-to-Peer VPN
// This software is licensed under GPL-3 or newer (see LICENSE.md)

package util

var (
	_id = 0
)

// generate next unique identifier (unique in the running process/application)
func NextID() int {
	_id++
	return _id
}
