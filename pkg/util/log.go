package util

import (
	"fmt"
	"os"
)

// InitLogFilePerm ensures the daemon's log file under /var/log/ovsbridge
// exists with 0640 permissions, creating it if necessary, before klog's
// own file logging (--log-dir) writes to it.
func InitLogFilePerm(moduleName string) error {
	logPath := "/var/log/ovsbridge/" + moduleName + ".log"
	if err := os.MkdirAll("/var/log/ovsbridge", 0750); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
		if err != nil {
			return fmt.Errorf("failed to create log file: %w", err)
		}
		f.Close()
	} else if err := os.Chmod(logPath, 0640); err != nil {
		return fmt.Errorf("failed to chmod log file: %w", err)
	}
	return nil
}
