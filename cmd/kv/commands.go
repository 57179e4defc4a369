package kv

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Reads the value for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			value, found, err := rpcStore.Get(key)
			if err != nil {
				return err
			}
			printValue(key, value, found)
			return nil
		},
	}
	getAllCmd = &cobra.Command{
		Use:   "getall",
		Short: "Reads all key value pairs sorted by key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, values, err := rpcStore.GetAll()
			if err != nil {
				return err
			}
			for i, key := range keys {
				printValue(key, values[i], true)
			}
			fmt.Printf("(%d keys)\n", len(keys))
			return nil
		},
	}
	mgetCmd = &cobra.Command{
		Use:   "mget [key]...",
		Short: "Reads the values for several keys",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, found, err := rpcStore.MGet(args)
			if err != nil {
				return err
			}
			for i, key := range args {
				printValue(key, values[i], found[i])
			}
			return nil
		},
	}
	setCmd = &cobra.Command{
		Use:   "set [key] [value]",
		Short: "Sets the value for a key and prints the previous one",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			prev, found, err := rpcStore.Set(key, []byte(args[1]))
			if err != nil {
				return err
			}
			printPrev(key, prev, found)
			return nil
		},
	}
	msetCmd = &cobra.Command{
		Use:   "mset [key] [value] [[key] [value]]...",
		Short: "Sets several key value pairs",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 || len(args)%2 != 0 {
				return fmt.Errorf("mset needs key value pairs, got %d arguments", len(args))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			keys := make([]string, 0, len(args)/2)
			values := make([][]byte, 0, len(args)/2)
			for i := 0; i < len(args); i += 2 {
				keys = append(keys, args[i])
				values = append(values, []byte(args[i+1]))
			}
			prevs, found, err := rpcStore.MSet(keys, values)
			if err != nil {
				return err
			}
			for i, key := range keys {
				printPrev(key, prevs[i], found[i])
			}
			return nil
		},
	}
	delCmd = &cobra.Command{
		Use:   "del [key]",
		Short: "Deletes a key value pair and prints the removed value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			prev, found, err := rpcStore.Delete(key)
			if err != nil {
				return err
			}
			printPrev(key, prev, found)
			return nil
		},
	}
	mdelCmd = &cobra.Command{
		Use:   "mdel [key]...",
		Short: "Deletes several keys",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prevs, found, err := rpcStore.MDelete(args)
			if err != nil {
				return err
			}
			for i, key := range args {
				printPrev(key, prevs[i], found[i])
			}
			return nil
		},
	}
	existCmd = &cobra.Command{
		Use:   "exist [key]",
		Short: "Checks if a key exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			found, err := rpcStore.Has(key)
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, found=%t\n", key, found)
			return nil
		},
	}
	mexistCmd = &cobra.Command{
		Use:   "mexist [key]...",
		Short: "Checks if several keys exist",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			found, err := rpcStore.MHas(args)
			if err != nil {
				return err
			}
			for i, key := range args {
				fmt.Printf("key=%s, found=%t\n", key, found[i])
			}
			return nil
		},
	}
)

func printValue(key string, value []byte, found bool) {
	if !found {
		fmt.Printf("key=%s, found=false\n", key)
		return
	}
	fmt.Printf("key=%s, found=true, value=%s\n", key, value)
}

func printPrev(key string, prev []byte, found bool) {
	if !found {
		fmt.Printf("key=%s, prev=<none>\n", key)
		return
	}
	fmt.Printf("key=%s, prev=%s\n", key, prev)
}
