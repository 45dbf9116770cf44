// Copyright 2024 The Fred Authors
// This file is part of Fred.
//
// Fred is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Fred is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Fred. If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"fmt"

	"github.com/naoina/toml"
	"gopkg.in/urfave/cli.v1"
)

var dumpConfigCommand = cli.Command{
	Action:    dumpConfig,
	Name:      "dumpconfig",
	Usage:     "Show the effective opennet/tempbucket configuration as TOML",
	ArgsUsage: "",
	Flags:     []cli.Flag{configFileFlag},
}

func dumpConfig(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	out, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("fred-node: marshal config: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
