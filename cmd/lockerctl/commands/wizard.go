package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func sessionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "session",
		Short: "Show the current wizard step and selections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := client.Session(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("step: %s\n", st.CurrentStep)
			if st.CurrentStudent != nil {
				fmt.Printf("student: %s (%s)\n", st.CurrentStudent.FullName, st.CurrentStudent.StudentID)
			}
			if st.SelectedLocker != nil {
				fmt.Printf("locker: #%d\n", st.SelectedLocker.Number)
			}
			fmt.Printf("duration: %dh\n", st.SelectedDuration)
			return nil
		},
	}
}

func lockersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lockers",
		Short: "List lockers and their status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := client.Lockers(cmd.Context())
			if err != nil {
				return err
			}
			for _, l := range list.Lockers {
				line := fmt.Sprintf("#%-3d %s", l.Number, l.Status)
				if l.ReservedUntil != nil {
					line += " until " + l.ReservedUntil.Local().Format("15:04:05")
				}
				fmt.Println(line)
			}
			fmt.Printf("%d of %d available\n", list.Available, list.Total)
			return nil
		},
	}
}

func registerCmd() *cobra.Command {
	var face string
	cmd := &cobra.Command{
		Use:   "register [student-id] [full name]",
		Short: "Register a student with a face image",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := readFace(face)
			if err != nil {
				return err
			}
			s, err := client.Register(cmd.Context(), args[0], args[1], img)
			if err != nil {
				return err
			}
			fmt.Printf("Registered %s (%s)\n", s.FullName, s.StudentID)
			return nil
		},
	}
	cmd.Flags().StringVar(&face, "face", "", "face image file or encoded image")
	return cmd
}

func loginCmd() *cobra.Command {
	var face string
	cmd := &cobra.Command{
		Use:   "login [student-id]",
		Short: "Log in a registered student",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := readFace(face)
			if err != nil {
				return err
			}
			s, err := client.Login(cmd.Context(), args[0], img)
			if err != nil {
				return err
			}
			fmt.Printf("Welcome back, %s\n", s.FullName)
			return nil
		},
	}
	cmd.Flags().StringVar(&face, "face", "", "face image file or encoded image")
	return cmd
}

func selectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "select [locker-number]",
		Short: "Select an available locker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("locker number: %w", err)
			}
			if err := client.SelectLocker(cmd.Context(), n); err != nil {
				return err
			}
			fmt.Printf("Selected locker #%d\n", n)
			return nil
		},
	}
}

func durationCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "duration [hours]",
		Short: "Choose how many hours to book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("hours: %w", err)
			}
			if err := client.SelectDuration(cmd.Context(), h); err != nil {
				return err
			}
			fmt.Printf("Duration set to %dh\n", h)
			return nil
		},
	}
}

func continueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "continue",
		Short: "Move from locker selection to confirmation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client.Continue(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("Ready to verify")
			return nil
		},
	}
}

func verifyCmd() *cobra.Command {
	var face string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify the student's face and commit the reservation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := readFace(face)
			if err != nil {
				return err
			}
			conf, err := client.Verify(cmd.Context(), img)
			if err != nil {
				return err
			}
			r := conf.Reservation
			fmt.Printf("Locker #%d booked until %s\n", r.LockerNumber, r.EndTime.Local().Format("15:04:05"))
			fmt.Printf("reservation: %s\n", r.ID)
			if conf.Receipt != "" {
				fmt.Printf("receipt: %s\n", conf.Receipt)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&face, "face", "", "face image file or encoded image")
	return cmd
}

func countdownCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "countdown",
		Short: "Show the time left on the current reservation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.Countdown(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Locker #%d: %s\n", c.LockerNumber, c.Display)
			if c.Warn {
				fmt.Println("Your booking is about to end")
			}
			return nil
		},
	}
}

func resetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Start over from registration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client.Reset(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("Session reset")
			return nil
		},
	}
}
