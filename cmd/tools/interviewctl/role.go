package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/z-interview/backend/internal/service/interview"
	"github.com/zhouzirui/z-interview/backend/internal/service/skills"
)

func newRoleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "role [text]",
		Short: "显示一段回答会匹配到的面试技能",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			role, ok := interview.MatchRole(text)
			if !ok {
				fmt.Fprintf(cmd.OutOrStdout(), "no role matched for %q\n", text)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", role.SkillID, role.Label)
			return nil
		},
	}
}

func newSkillsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skills",
		Short: "列出技能目录中的面试指南",
		RunE:  runSkillsCmd,
	}
	cmd.Flags().String("dir", "", "技能目录 (默认读取 SKILLS_DIR)")
	cmd.Flags().Bool("install", false, "先写入内置的默认技能")
	return cmd
}

func runSkillsCmd(cmd *cobra.Command, _ []string) error {
	dir, _ := cmd.Flags().GetString("dir")
	install, _ := cmd.Flags().GetBool("install")

	if dir == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		dir = cfg.Interview.SkillsDir
	}

	if install {
		if err := skills.EnsureDefaults(dir); err != nil {
			return fmt.Errorf("install default skills: %w", err)
		}
	}

	registry := skills.NewRegistry(dir)
	if err := registry.Load(); err != nil {
		return err
	}

	list := registry.List()
	if len(list) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "no skills found in %s\n", dir)
		return nil
	}
	for _, s := range list {
		fmt.Fprintf(cmd.OutOrStdout(), "%-24s %-28s %s\n", s.ID, s.Title, s.Source)
	}
	return nil
}
