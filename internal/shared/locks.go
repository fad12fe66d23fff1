package shared

import "fmt"

// RomaneioLockKey builds the lock key guarding one romaneio's reconciliation.
func RomaneioLockKey(romaneioID int64) string {
	return fmt.Sprintf("romaneio:%d:lock", romaneioID)
}
