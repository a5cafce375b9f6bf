package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/dbehnke/packet-nexus/pkg/codec"
	"github.com/dbehnke/packet-nexus/pkg/config"
	"github.com/dbehnke/packet-nexus/pkg/crc"
	"github.com/dbehnke/packet-nexus/pkg/packetizer"
)

// errInvalidPacket makes decode exit non-zero without being a usage error
var errInvalidPacket = errors.New("integrity check failed")

// addSchemeFlags registers the pipeline selection flags. Explicit scheme
// flags override the named profile.
func addSchemeFlags(fs *pflag.FlagSet) {
	fs.String("profile", "", "Profile from the configuration file")
	fs.Int("length", -1, "Message length (defaults to the payload length)")
	fs.String("crc", "", "CRC scheme")
	fs.String("fec0", "", "Inner FEC scheme")
	fs.String("fec1", "", "Outer FEC scheme")
}

// profileFromFlags resolves the pipeline configuration for a one-shot command
func profileFromFlags(cmd *cobra.Command) (config.ProfileConfig, error) {
	pc := config.DefaultProfile()
	pc.MessageLength = -1

	if name, _ := cmd.Flags().GetString("profile"); name != "" {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return pc, err
		}
		p, ok := cfg.Profile(name)
		if !ok {
			return pc, fmt.Errorf("unknown profile %q", name)
		}
		pc = p
	}

	for flag, dst := range map[string]*string{"crc": &pc.CRC, "fec0": &pc.FEC0, "fec1": &pc.FEC1} {
		if v, _ := cmd.Flags().GetString(flag); v != "" {
			*dst = v
		}
	}
	if cmd.Flags().Changed("length") {
		n, _ := cmd.Flags().GetInt("length")
		pc.MessageLength = n
	}
	return pc, nil
}

func newPacketizer(pc config.ProfileConfig) (*packetizer.Packetizer, error) {
	check, fec0, fec1, err := pc.Schemes()
	if err != nil {
		return nil, err
	}
	return packetizer.New(pc.MessageLength, check, fec0, fec1)
}

func decodeHexArg(s string) ([]byte, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex input: %w", err)
	}
	return b, nil
}

func newEncodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "encode <hex payload>",
		Short: "Encode a payload into a packet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := decodeHexArg(args[0])
			if err != nil {
				return err
			}
			pc, err := profileFromFlags(cmd)
			if err != nil {
				return err
			}
			if pc.MessageLength < 0 {
				pc.MessageLength = len(payload)
			}

			p, err := newPacketizer(pc)
			if err != nil {
				return err
			}
			defer p.Close()

			pkt, err := p.EncodeMessage(payload)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(pkt))
			return nil
		},
	}
	addSchemeFlags(cmd.Flags())
	return cmd
}

func newDecodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decode <hex packet>",
		Short: "Decode a packet and check its integrity",
		Long: `Decode a packet and print the recovered payload. The command exits
non-zero when the integrity check fails. Without --length the message
length is derived from the packet length.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pkt, err := decodeHexArg(args[0])
			if err != nil {
				return err
			}
			pc, err := profileFromFlags(cmd)
			if err != nil {
				return err
			}
			if pc.MessageLength < 0 {
				check, fec0, fec1, err := pc.Schemes()
				if err != nil {
					return err
				}
				pc.MessageLength = packetizer.DecodedLength(len(pkt), check, fec0, fec1)
			}

			p, err := newPacketizer(pc)
			if err != nil {
				return err
			}
			defer p.Close()

			payload, valid, err := p.DecodeMessage(pkt)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, hex.EncodeToString(payload))
			fmt.Fprintf(out, "valid: %t\n", valid)
			if !valid {
				return errInvalidPacket
			}
			return nil
		},
	}
	addSchemeFlags(cmd.Flags())
	return cmd
}

func newInfoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show the pipeline layout of a profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			pc, err := profileFromFlags(cmd)
			if err != nil {
				return err
			}
			if pc.MessageLength < 0 {
				pc.MessageLength = config.DefaultProfile().MessageLength
			}

			p, err := newPacketizer(pc)
			if err != nil {
				return err
			}
			defer p.Close()

			format, _ := cmd.Flags().GetString("format")
			out := cmd.OutOrStdout()
			switch format {
			case "text":
				fmt.Fprint(out, p.String())
			case "yaml":
				enc := yaml.NewEncoder(out)
				enc.SetIndent(2)
				if err := enc.Encode(p.Describe()); err != nil {
					return err
				}
				return enc.Close()
			default:
				return fmt.Errorf("unknown format %q (want text or yaml)", format)
			}
			return nil
		},
	}
	addSchemeFlags(cmd.Flags())
	cmd.Flags().StringP("format", "f", "text", "Output format: text or yaml")
	return cmd
}

func newLengthsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lengths",
		Short: "Compute packet length from message length, or the inverse",
		RunE: func(cmd *cobra.Command, args []string) error {
			pc, err := profileFromFlags(cmd)
			if err != nil {
				return err
			}
			check, fec0, fec1, err := pc.Schemes()
			if err != nil {
				return err
			}

			n, _ := cmd.Flags().GetInt("message")
			k, _ := cmd.Flags().GetInt("packet")
			if n < 0 && k < 0 {
				return fmt.Errorf("one of --message or --packet is required")
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "crc: %s, fec0: %s, fec1: %s\n", check, fec0, fec1)
			if n >= 0 {
				fmt.Fprintf(out, "message %d -> packet %d\n", n, packetizer.EncodedLength(n, check, fec0, fec1))
			}
			if k >= 0 {
				fmt.Fprintf(out, "packet %d -> message %d\n", k, packetizer.DecodedLength(k, check, fec0, fec1))
			}
			return nil
		},
	}
	addSchemeFlags(cmd.Flags())
	cmd.Flags().IntP("message", "n", -1, "Message length to encode")
	cmd.Flags().IntP("packet", "k", -1, "Packet length to invert")
	return cmd
}

func newSchemesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schemes",
		Short: "List the available CRC and FEC schemes",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "crc:")
			for _, s := range crc.Schemes() {
				fmt.Fprintf(out, "  %-10s %d bytes\n", s, s.Length())
			}
			fmt.Fprintln(out, "fec:")
			for _, s := range codec.Schemes() {
				fmt.Fprintf(out, "  %-10s 1 byte -> %d bytes\n", s, s.EncodedLength(1))
			}
			return nil
		},
	}
}
