// Package mysql 把活动事件持久化到 MySQL，负责连接池、内嵌迁移与按序号回放。
package mysql
