// Package db 内嵌 SQL 迁移文件
package db

import "embed"

//go:embed migrations/*.sql
var Migrations embed.FS
