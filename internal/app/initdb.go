package app

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/bitcodr/waplane/config"
	"github.com/bitcodr/waplane/internal/domain"
	"github.com/bitcodr/waplane/pkg/common"
	"github.com/bitcodr/waplane/pkg/ids"
)

func getDatabase(cfg config.DBConfig, workdir string) *gorm.DB {
	logLevel := gormlogger.Warn
	if cfg.Debug {
		logLevel = gormlogger.Info
	}
	gormCfg := &gorm.Config{Logger: gormlogger.Default.LogMode(logLevel)}

	var db *gorm.DB
	var err error
	switch cfg.Type {
	case "sqlite", "sqlite3":
		dbfile := filepath.Join(workdir, "waplane.db")
		db, err = gorm.Open(sqlite.Open(dbfile), gormCfg)
	default:
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable TimeZone=%s",
			cfg.Host, cfg.Port, cfg.User, cfg.Passwd, cfg.Name, time.Local.String())
		db, err = gorm.Open(postgres.Open(dsn), gormCfg)
	}
	if err != nil {
		panic(errors.Wrap(err, "database connect failed"))
	}

	sqlDB, err := db.DB()
	if err == nil {
		if cfg.MaxConn > 0 {
			sqlDB.SetMaxOpenConns(cfg.MaxConn)
		}
		if cfg.IdleConn > 0 {
			sqlDB.SetMaxIdleConns(cfg.IdleConn)
		}
		sqlDB.SetConnMaxLifetime(time.Hour)
	}
	return db
}

func (a *Application) checkSuper() {
	const superUsername = "admin"
	const defaultPassword = "waplane"

	var operator domain.SysOperator
	err := a.gormDB.Where("username = ?", superUsername).First(&operator).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if err := a.gormDB.Create(&domain.SysOperator{
			ID:        ids.Next(),
			Realname:  "administrator",
			Mobile:    "0000",
			Email:     "N/A",
			Username:  superUsername,
			Password:  common.HashPassword(defaultPassword, a.appConfig.Web.Secret),
			Level:     "super",
			Status:    common.ENABLED,
			Remark:    "super",
			LastLogin: time.Now(),
		}).Error; err != nil {
			zap.L().Error("failed to create default super admin", zap.Error(err))
		} else {
			zap.L().Info("initialized default super admin account", zap.String("username", superUsername))
		}
		return
	}
	if err != nil {
		zap.L().Error("failed to query super admin", zap.Error(err))
	}
}

// settings initialized on first start; values are editable through the
// settings API afterwards.
var defaultSettings = []domain.SysConfig{
	{Sort: 1, Type: "handover", Name: "TimeoutMinutes", Value: "30", Remark: "Minutes an operator may hold a conversation without replying before it returns to the AI"},
	{Sort: 2, Type: "handover", Name: "SweepIntervalSeconds", Value: "300", Remark: "How often the handover reconciler sweep runs"},
	{Sort: 3, Type: "ledger", Name: "RetentionDays", Value: "365", Remark: "Days of message history kept before the purge job removes rows"},
}

func (a *Application) checkSettings() {
	for _, item := range defaultSettings {
		var count int64
		a.gormDB.Model(&domain.SysConfig{}).
			Where("type = ? and name = ?", item.Type, item.Name).
			Count(&count)
		if count == 0 {
			a.gormDB.Create(&domain.SysConfig{
				Sort:   item.Sort,
				Type:   item.Type,
				Name:   item.Name,
				Value:  item.Value,
				Remark: item.Remark,
			})
			zap.L().Info("initialized config",
				zap.String("key", item.Type+"."+item.Name),
				zap.String("default", item.Value))
		}
	}
}

// checkSchedulers initializes default scheduled tasks
func (a *Application) checkSchedulers() {
	defaultSchedulers := []domain.BizScheduler{
		{
			Name:     "Handover Reconciler",
			TaskType: domain.TaskHandoverReconcile,
			Interval: 300, // 5 minutes
			Status:   "enabled",
			Remark:   "Returns conversations stuck waiting on a silent operator to the AI",
		},
		{
			Name:     "Message Purge",
			TaskType: domain.TaskPurgeMessages,
			Interval: 86400, // daily
			Status:   "enabled",
			Remark:   "Removes messages older than the configured retention window",
		},
	}

	for _, sched := range defaultSchedulers {
		var count int64
		a.gormDB.Model(&domain.BizScheduler{}).
			Where("task_type = ?", sched.TaskType).
			Count(&count)

		if count == 0 {
			sched.NextRunAt = time.Now().Add(time.Duration(sched.Interval) * time.Second)
			if err := a.gormDB.Create(&sched).Error; err != nil {
				zap.L().Error("failed to create default scheduler",
					zap.String("name", sched.Name),
					zap.Error(err))
			} else {
				zap.L().Info("initialized default scheduler",
					zap.String("name", sched.Name),
					zap.String("task_type", sched.TaskType))
			}
		}
	}
}

// checkDepartments seeds the department-to-channel mapping table.
func (a *Application) checkDepartments() {
	defaults := []domain.Department{
		{Code: domain.DeptLeasing, Name: "Leasing", Channel: domain.ChannelRelay, AiEnabled: true, Status: common.ENABLED},
		{Code: domain.DeptSales, Name: "Sales", Channel: domain.ChannelRelay, AiEnabled: true, Status: common.ENABLED},
		{Code: domain.DeptAdministrative, Name: "Administrative", Channel: domain.ChannelRelay, AiEnabled: false, Status: common.ENABLED},
		{Code: domain.DeptMarketing, Name: "Marketing", Channel: domain.ChannelCloud, AiEnabled: false, Status: common.ENABLED},
		{Code: domain.DeptNewDevelopment, Name: "New Development", Channel: domain.ChannelCloud, AiEnabled: false, Status: common.ENABLED},
	}

	for _, d := range defaults {
		var count int64
		a.gormDB.Model(&domain.Department{}).Where("code = ?", d.Code).Count(&count)
		if count == 0 {
			d.CreatedAt = time.Now()
			d.UpdatedAt = time.Now()
			if err := a.gormDB.Create(&d).Error; err != nil {
				zap.L().Error("failed to create default department", zap.String("code", d.Code), zap.Error(err))
			} else {
				zap.L().Info("initialized default department", zap.String("code", d.Code), zap.String("channel", d.Channel))
			}
		}
	}
}
