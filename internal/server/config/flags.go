package config

import (
	"flag"
	"io"
	"time"

	"github.com/dmitrijs2005/clinicguard/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags:
//
//	-a string   HTTP bind address (e.g. ":8080")
//	-g string   admin gRPC bind address (e.g. ":50051")
//	-d string   PostgreSQL DSN
//	-s string   session token HMAC secret
//	-t int      session validity, minutes
//	-l int      lockout threshold
//	-p int      lockout period, seconds
//	-r int      login attempts per minute per IP
//	-i string   administrator invite code
//	-b string   S3 archive bucket
//	-e string   S3 base endpoint
//	-m string   risk predictor URL
//	-v string   log level
//
// Only these flags are looked at; everything else in args is ignored.
func parseFlags(config *Config, args []string) error {
	filtered := flagx.FilterArgs(args, []string{"-a", "-g", "-d", "-s", "-t", "-l", "-p", "-r", "-i", "-b", "-e", "-m", "-v"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&config.HTTPAddr, "a", config.HTTPAddr, "address and port to run the HTTP API")
	fs.StringVar(&config.GRPCAddr, "g", config.GRPCAddr, "address and port to run the admin gRPC endpoint")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")

	sessionTTL := fs.Int("t", int(config.SessionTTL.Minutes()), "session validity (in minutes)")
	lockoutPeriod := fs.Int("p", int(config.LockoutPeriod.Seconds()), "lockout period (in seconds)")

	fs.IntVar(&config.LockoutThreshold, "l", config.LockoutThreshold, "failed attempts before lock")
	fs.IntVar(&config.LoginRatePerMinute, "r", config.LoginRatePerMinute, "login attempts per minute per client")
	fs.StringVar(&config.AdminInviteCode, "i", config.AdminInviteCode, "administrator invite code")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 archive bucket")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&config.PredictorURL, "m", config.PredictorURL, "risk predictor URL")
	fs.StringVar(&config.LogLevel, "v", config.LogLevel, "log level")

	if err := fs.Parse(filtered); err != nil {
		return err
	}

	config.SessionTTL = minutes(*sessionTTL)
	config.LockoutPeriod = seconds(*lockoutPeriod)
	return nil
}

func minutes(n int) time.Duration { return time.Duration(n) * time.Minute }
func seconds(n int) time.Duration { return time.Duration(n) * time.Second }
