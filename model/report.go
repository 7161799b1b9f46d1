package model

import "time"

// Report is an abuse report filed by one account against another.
// Reports are independent of blocking; filing one does not change the
// relationship state between the two accounts.
type Report struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ReporterID int64     `gorm:"index:idx_report_pair;not null" json:"reporter_id"`
	ReportedID int64     `gorm:"index:idx_report_pair;not null" json:"reported_id"`
	Reason     string    `gorm:"size:256" json:"reason"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}
