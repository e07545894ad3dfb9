// Package backup coordinates database backups: StartBackup/EndBackup
// brackets fanned out over composite files, with snapshots recorded
// durably so interrupted backups are visible at recovery.
package backup
