// vpncloud - Peer-to-Peer VPN
// This software is licensed under GPL-3 or newer (see LICENSE.md)

package util

import (
	"fmt"
	"os"

	"github.com/bfix/gospel/logger"
)

// EnforceDirExists make sure that the path is created
func EnforceDirExists(path string) error {
	logger.Printf(logger.DBG, "[util] Checking directory '%s'...\n", path)
	fi, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Printf(logger.DBG, "[util] Creating directory '%s'...\n", path)
			return os.Mkdir(path, 0770)
		}
		return err
	}
	if !fi.IsDir() {
		return fmt.Errorf("Not a directory (%s)", path)
	}
	return nil
}
