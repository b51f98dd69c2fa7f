/*
main.go
*/
package main

import (
	"github.com/fulcrumsec/tenantctl/cmd"
	"github.com/fulcrumsec/tenantctl/pkg/logger"
	"github.com/fulcrumsec/tenantctl/pkg/telemetry"
)

func main() {
	logger.InitializeWithFallback()
	if err := telemetry.Init("tenantctl"); err != nil {
		logger.GetLogger().Warn("telemetry disabled: " + err.Error())
	}

	cmd.Execute()
}
