package commands

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

func reservationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reservations",
		Short: "List all reservations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := client.Reservations(cmd.Context())
			if err != nil {
				return err
			}
			for _, r := range list {
				fmt.Printf("%s  #%-3d %-12s %-10s %s - %s\n", r.ID, r.LockerNumber, r.StudentID, r.Status,
					r.StartTime.Local().Format("15:04"), r.EndTime.Local().Format("15:04"))
			}
			return nil
		},
	}
}

func completeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "complete [reservation-id]",
		Short: "End a reservation early and free its locker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := client.Complete(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Reservation %s is %s\n", r.ID, r.Status)
			return nil
		},
	}
}

func accessCmd() *cobra.Command {
	var face string
	cmd := &cobra.Command{
		Use:   "access [locker-number]",
		Short: "Try to open a locker with a face image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("locker number: %w", err)
			}
			img, err := readFace(face)
			if err != nil {
				return err
			}
			d, err := client.Access(cmd.Context(), n, img)
			if err != nil {
				return err
			}
			if d.Allow {
				fmt.Printf("Locker #%d opened for %s\n", n, d.StudentID)
				return nil
			}
			return fmt.Errorf("access denied: %s", d.Reason)
		},
	}
	cmd.Flags().StringVar(&face, "face", "", "face image file or encoded image")
	return cmd
}

func exportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Download reservations as an Excel workbook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Create(out)
			if err != nil {
				return err
			}
			if err := client.Export(cmd.Context(), f); err != nil {
				f.Close()
				_ = os.Remove(out)
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "reservations.xlsx", "output file")
	return cmd
}
