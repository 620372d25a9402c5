package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	flagSongTitle  string
	flagSongArtist string
	flagSongAlbum  string
)

var libraryCmd = &cobra.Command{
	Use:   "library",
	Short: "manage the local music library",
}

var libraryCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "create a new collection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		lib, err := openLibrary()
		if err != nil {
			return err
		}
		id, err := lib.CreateCollection(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	},
}

var libraryListCmd = &cobra.Command{
	Use:   "list",
	Short: "list collections",
	RunE: func(cmd *cobra.Command, args []string) error {
		lib, err := openLibrary()
		if err != nil {
			return err
		}
		infos, err := lib.Collections(cmd.Context())
		if err != nil {
			return err
		}
		for _, info := range infos {
			fmt.Printf("%s  %s (%d songs)\n", info.ID, info.Name, info.ItemCount)
		}
		return nil
	},
}

var librarySongsCmd = &cobra.Command{
	Use:   "songs <collection-id>",
	Short: "list a collection's songs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		lib, err := openLibrary()
		if err != nil {
			return err
		}
		total, err := lib.CountSongs(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		songs, err := lib.ListSongs(cmd.Context(), args[0], total, 0)
		if err != nil {
			return err
		}
		for _, s := range songs {
			dur := time.Duration(s.Duration * float64(time.Second)).Round(time.Second)
			fmt.Printf("%3d  %s - %s (%s) [%s]\n", s.Idx, s.Title, s.Artist, s.Album, dur)
		}
		return nil
	},
}

var libraryImportCmd = &cobra.Command{
	Use:   "import <collection-id> <file>...",
	Short: "import audio files into a collection",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		lib, err := openLibrary()
		if err != nil {
			return err
		}
		collectionID := args[0]
		for _, path := range args[1:] {
			err := lib.ImportFile(cmd.Context(), collectionID, path,
				flagSongTitle, flagSongArtist, flagSongAlbum)
			if err != nil {
				return err
			}
			fmt.Printf("imported %s\n", path)
		}
		return nil
	},
}

func init() {
	libraryImportCmd.Flags().StringVar(&flagSongTitle, "title", "", "song title (file name when empty)")
	libraryImportCmd.Flags().StringVar(&flagSongArtist, "artist", "", "song artist")
	libraryImportCmd.Flags().StringVar(&flagSongAlbum, "album", "", "song album")

	libraryCmd.AddCommand(libraryCreateCmd)
	libraryCmd.AddCommand(libraryListCmd)
	libraryCmd.AddCommand(librarySongsCmd)
	libraryCmd.AddCommand(libraryImportCmd)
}
