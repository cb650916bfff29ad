// Command devclient drives a running gridwatch server: it prints a provider sign-in URL,
// lists reports, submits a report through the wizard or changes a report's status.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"gridwatch/client"
	"gridwatch/models"
	"gridwatch/session"
	"gridwatch/workflow"

	"github.com/apex/log"
)

var (
	serviceURL = flag.String("url", "http://127.0.0.1:8080", "service base URL")
	token      = flag.String("token", os.Getenv("GRIDWATCH_TOKEN"), "session token from a completed sign-in")
	login      = flag.String("login", "", "print the sign-in URL for a provider and exit")
	list       = flag.Bool("list", false, "list reports")
	report     = flag.Bool("report", false, "submit a report through the wizard")
	status     = flag.String("status", "", "set the status of -id")
	reportID   = flag.String("id", "", "report id for -status")
	photo      = flag.String("photo", "", "photo file to attach to -report")
)

func randomize(v, max float64) float64 {
	return v + rand.Float64()*2*max - max
}

func doList(ctx context.Context, c *client.Client) {
	reports, err := c.ListReports(ctx)
	if err != nil {
		log.Errorf("Failed to list reports: %v", err)
		return
	}
	for _, r := range reports {
		fmt.Printf("%s  %-9s %-12s %s\n", r.ID, r.Severity, r.Status.DisplayName(), r.DisplayTitle())
	}
	log.Infof("Done, %d reports", len(reports))
}

func doReport(ctx context.Context, c *client.Client, identity *models.Identity) {
	wf := workflow.New(c, identity)
	steps := []func() error{
		func() error {
			return wf.SetLocation(models.Location{
				Latitude:  randomize(40.7128, 0.05),
				Longitude: randomize(-74.0060, 0.05),
				Address:   "dev client",
			})
		},
		wf.Next,
		func() error {
			return wf.SetDetails("Dev client report", "Submitted from the dev client at "+time.Now().Format(time.RFC3339), models.SeverityLow)
		},
		wf.Next,
	}
	if *photo != "" {
		steps = append(steps, func() error {
			data, err := os.ReadFile(*photo)
			if err != nil {
				return err
			}
			return wf.AddPhoto(workflow.Photo{Name: filepath.Base(*photo), Data: data})
		})
	}
	for _, step := range steps {
		if err := step(); err != nil {
			log.Errorf("Wizard stopped at %s: %v", wf.State(), err)
			return
		}
	}

	if err := wf.Submit(ctx); err != nil {
		log.Errorf("Failed to submit: %v", err)
		return
	}
	log.Infof("Done, report %s", wf.ReportID())
}

func doStatus(ctx context.Context, c *client.Client) {
	s, err := models.ParseStatus(*status)
	if err != nil {
		log.Errorf("%v", err)
		return
	}
	r, err := c.UpdateStatus(ctx, *reportID, s)
	if err != nil {
		log.Errorf("Failed to update status: %v", err)
		return
	}
	log.Infof("Done, %s is %s", r.ID, r.Status.DisplayName())
}

func main() {
	flag.Parse()
	ctx := context.Background()
	c := client.New(*serviceURL, 30*time.Second)

	if *login != "" {
		provider, err := models.ParseProvider(*login)
		if err != nil {
			log.Fatalf("%v", err)
		}
		url, err := c.SignIn(ctx, provider)
		if err != nil {
			log.Fatalf("Failed to start sign-in: %v", err)
		}
		fmt.Println(url)
		return
	}

	holder := session.NewHolder(ctx, c)
	defer holder.Close()
	if *token != "" {
		if _, err := c.UseToken(ctx, *token); err != nil {
			log.Fatalf("Token rejected: %v", err)
		}
	}
	<-holder.Ready()
	if identity := holder.Current(); identity != nil {
		log.Infof("Signed in as %s via %s", identity.UserID, identity.Provider)
	}

	switch {
	case *list:
		doList(ctx, c)
	case *report:
		doReport(ctx, c, holder.Current())
	case *status != "":
		doStatus(ctx, c)
	default:
		flag.Usage()
	}
}
