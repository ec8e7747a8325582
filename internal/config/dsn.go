package config

import (
	"net"
	neturl "net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

// DSNValue returns the driver-specific data source name. An explicit dsn
// wins; otherwise a MySQL DSN is assembled from the individual fields.
func (c DatabaseRuntimeConfig) DSNValue() string {
	if v := strings.TrimSpace(c.DSN); v != "" {
		return v
	}
	if c.Driver == DriverSQLite {
		return ResolveRuntimePath(c.Path, defaultSQLitePath)
	}

	mc := mysql.NewConfig()
	mc.User = c.User
	mc.Passwd = c.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	mc.DBName = c.Name
	mc.ParseTime = c.ParseTime
	if loc, err := time.LoadLocation(c.Loc); err == nil {
		mc.Loc = loc
	}
	mc.Params = map[string]string{"charset": c.Charset}
	for k, v := range c.Params {
		mc.Params[k] = v
	}
	return mc.FormatDSN()
}

func (c RedisRuntimeConfig) URLValue() string {
	if u := normalizeRedisRawURL(c.URL); u != "" {
		return u
	}

	db := c.DB
	if db < 0 {
		db = defaultRedisDB
	}
	scheme := "redis"
	if c.TLS {
		scheme = "rediss"
	}

	u := &neturl.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   "/" + strconv.Itoa(db),
	}
	if c.Username != "" {
		if c.Password != "" {
			u.User = neturl.UserPassword(c.Username, c.Password)
		} else {
			u.User = neturl.User(c.Username)
		}
	} else if c.Password != "" {
		u.User = neturl.UserPassword("", c.Password)
	}
	return u.String()
}
